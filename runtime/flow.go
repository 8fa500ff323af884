package runtime

import (
	"fmt"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// FlowMap is the top-level flow document. Steps are kept as raw yaml.Node
// values and decoded into concrete step types lazily, at the point a
// sequence walker is about to execute them — inner branches (then/else/
// loop bodies) are frequently never reached for a given user iteration,
// so there is no reason to validate them eagerly.
type FlowMap struct {
	ID          any               `yaml:"id,omitempty"`
	Name        string            `yaml:"name" validate:"required"`
	Description string            `yaml:"description,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Steps       []yaml.Node       `yaml:"steps" validate:"required,min=1"`
	StaticVars  map[string]any    `yaml:"staticVars,omitempty"`
}

// LoadFlow parses a flow document from YAML bytes and validates its
// top-level shape. Individual steps are validated as they are decoded.
func LoadFlow(data []byte) (*FlowMap, error) {
	var fm FlowMap
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("parsing flow: %w", err)
	}
	if fm.Headers == nil {
		fm.Headers = map[string]string{}
	}
	if fm.StaticVars == nil {
		fm.StaticVars = map[string]any{}
	}
	if err := validate.Struct(&fm); err != nil {
		return nil, fmt.Errorf("validating flow: %w", err)
	}
	return &fm, nil
}

// BaseStep carries the fields common to every step type, used to sniff
// the concrete type before a full decode.
type BaseStep struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
	Type string `yaml:"type"`
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"HEAD": true, "PATCH": true, "OPTIONS": true,
}

// RequestStep issues one HTTP request and optionally extracts values from
// the response into the flow context.
type RequestStep struct {
	ID        string            `yaml:"id" validate:"required"`
	Name      string            `yaml:"name,omitempty"`
	Method    string            `yaml:"method" validate:"required"`
	URL       string            `yaml:"url" validate:"required"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Body      any               `yaml:"body,omitempty"`
	Extract   map[string]string `yaml:"extract,omitempty"`
	OnFailure string            `yaml:"onFailure" validate:"required,oneof=stop continue"`
}

// ConditionStep branches into Then or Else depending on a structured or
// legacy-expression predicate. Both branches are raw yaml.Node sequences,
// decoded lazily when the interpreter walks into the chosen branch.
type ConditionStep struct {
	ID            string         `yaml:"id" validate:"required"`
	Name          string         `yaml:"name,omitempty"`
	Condition     *string        `yaml:"condition,omitempty"`
	ConditionData *ConditionData `yaml:"conditionData,omitempty"`
	Then          []yaml.Node    `yaml:"then,omitempty"`
	Else          []yaml.Node    `yaml:"else,omitempty"`
}

// HasStructuredCondition reports whether ConditionData is populated and
// usable, per the "structured takes priority over legacy" rule.
func (c *ConditionStep) HasStructuredCondition() bool {
	return c.ConditionData != nil &&
		strings.TrimSpace(c.ConditionData.Variable) != "" &&
		strings.TrimSpace(c.ConditionData.Operator) != ""
}

// LoopStep iterates Source (a path into the context resolving to an
// array) binding each element to LoopVariable and running Steps.
type LoopStep struct {
	ID           string      `yaml:"id" validate:"required"`
	Name         string      `yaml:"name,omitempty"`
	Source       string      `yaml:"source" validate:"required"`
	LoopVariable string      `yaml:"loopVariable" validate:"required"`
	Steps        []yaml.Node `yaml:"steps,omitempty"`
}

// DecodeStep sniffs node's "type" field and decodes + validates it into
// the matching concrete step type. Returns an error that should set the
// flow's error state and halt the enclosing sequence, per the "lazy
// parse at the sequence boundary" rule: a malformed inner step is only
// ever discovered if the flow actually reaches it.
func DecodeStep(node yaml.Node) (any, error) {
	var base BaseStep
	if err := node.Decode(&base); err != nil {
		return nil, fmt.Errorf("decoding step: %w", err)
	}

	switch base.Type {
	case "request":
		var s RequestStep
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding request step %q: %w", base.ID, err)
		}
		s.Method = strings.ToUpper(s.Method)
		if !validMethods[s.Method] {
			return nil, fmt.Errorf("request step %q: unsupported method %q", s.ID, s.Method)
		}
		if s.Headers == nil {
			s.Headers = map[string]string{}
		}
		if s.Extract == nil {
			s.Extract = map[string]string{}
		}
		if err := validate.Struct(&s); err != nil {
			return nil, fmt.Errorf("validating request step %q: %w", base.ID, err)
		}
		return &s, nil
	case "condition":
		var s ConditionStep
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding condition step %q: %w", base.ID, err)
		}
		if err := validate.Struct(&s); err != nil {
			return nil, fmt.Errorf("validating condition step %q: %w", base.ID, err)
		}
		if s.ConditionData == nil && (s.Condition == nil || strings.TrimSpace(*s.Condition) == "") {
			return nil, fmt.Errorf("condition step %q: neither condition nor conditionData provided", base.ID)
		}
		return &s, nil
	case "loop":
		var s LoopStep
		if err := node.Decode(&s); err != nil {
			return nil, fmt.Errorf("decoding loop step %q: %w", base.ID, err)
		}
		if err := validate.Struct(&s); err != nil {
			return nil, fmt.Errorf("validating loop step %q: %w", base.ID, err)
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("step %q: unknown step type %q", base.ID, base.Type)
	}
}
