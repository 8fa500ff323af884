package runtime

import "testing"

func TestToStringValueMapBasicTypes(t *testing.T) {
	input := map[string]any{
		"name":   "Alice",
		"count":  3.0,
		"active": true,
		"empty":  nil,
	}
	got := ToStringValueMap(input)

	if got["name"] != "Alice" {
		t.Errorf("name: got %q", got["name"])
	}
	if got["active"] != "true" {
		t.Errorf("active: got %q", got["active"])
	}
	if got["empty"] != "" {
		t.Errorf("empty: got %q, want empty string", got["empty"])
	}
}

func TestToStringValueMapEmptyInput(t *testing.T) {
	got := ToStringValueMap(map[string]any{})
	if len(got) != 0 {
		t.Fatalf("got %d entries, want 0", len(got))
	}
}
