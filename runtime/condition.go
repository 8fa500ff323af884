package runtime

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ConditionData is the structured predicate used by a ConditionStep, as
// produced by the UI-friendly condition builder.
type ConditionData struct {
	Variable string `yaml:"variable" json:"variable"`
	Operator string `yaml:"operator" json:"operator"`
	Value    string `yaml:"value" json:"value"`
}

// EvaluateCondition evaluates a structured condition against ctx. Any
// error, missing variable, or unknown operator evaluates to false rather
// than propagating — conditions never abort a flow on their own.
func EvaluateCondition(cd ConditionData, ctx map[string]any) bool {
	variable := strings.TrimSpace(cd.Variable)
	operator := strings.TrimSpace(cd.Operator)
	valueStr := cd.Value
	if variable == "" || operator == "" {
		return false
	}

	left := Get(ctx, variable)
	if IsMissing(left) {
		left = nil
	}

	switch operator {
	case "exists":
		return left != nil
	case "not_exists":
		return left == nil
	case "is_number":
		return isNumber(left)
	case "is_text":
		_, ok := left.(string)
		return ok
	case "is_boolean":
		_, ok := left.(bool)
		return ok
	case "is_array":
		_, ok := left.([]any)
		return ok
	case "is_true":
		b, ok := left.(bool)
		return ok && b
	case "is_false":
		b, ok := left.(bool)
		return ok && !b
	}

	coercedRight, canCompareNumerically, boolCoerceOK := coerceRight(left, valueStr)

	switch operator {
	case "equals":
		return compareEquals(left, valueStr, coercedRight, canCompareNumerically, boolCoerceOK)
	case "not_equals":
		return !compareEquals(left, valueStr, coercedRight, canCompareNumerically, boolCoerceOK)
	case "greater_than", "less_than", "greater_equals", "less_equals":
		if !canCompareNumerically {
			return false
		}
		lf := toFloat(left)
		rf := coercedRight.(float64)
		switch operator {
		case "greater_than":
			return lf > rf
		case "less_than":
			return lf < rf
		case "greater_equals":
			return lf >= rf
		case "less_equals":
			return lf <= rf
		}
		return false
	case "contains":
		return evalContains(left, valueStr)
	case "starts_with":
		s, ok := left.(string)
		return ok && strings.HasPrefix(s, valueStr)
	case "ends_with":
		s, ok := left.(string)
		return ok && strings.HasSuffix(s, valueStr)
	case "matches_regex":
		s, ok := left.(string)
		if !ok || valueStr == "" {
			return false
		}
		re, err := regexp.Compile(valueStr)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

func isNumber(v any) bool {
	switch n := v.(type) {
	case float64:
		return !math.IsNaN(n)
	case float32:
		return !math.IsNaN(float64(n))
	case int, int32, int64:
		return true
	default:
		return false
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// coerceRight attempts to coerce valueStr towards left's type, mirroring
// the structured-condition comparison rules: numbers try int-then-float,
// booleans try "true"/"false" (case-insensitive).
func coerceRight(left any, valueStr string) (coerced any, numeric bool, boolOK bool) {
	switch left.(type) {
	case bool:
		switch strings.ToLower(valueStr) {
		case "true":
			return true, false, true
		case "false":
			return false, false, true
		}
		return nil, false, false
	default:
		if isNumber(left) {
			if f, err := strconv.ParseFloat(valueStr, 64); err == nil {
				return f, true, false
			}
		}
		return nil, false, false
	}
}

func compareEquals(left any, valueStr string, coercedRight any, numeric, boolOK bool) bool {
	if numeric && isNumber(left) {
		return toFloat(left) == coercedRight.(float64)
	}
	if b, ok := left.(bool); ok && boolOK {
		return b == coercedRight.(bool)
	}
	if left == nil {
		lower := strings.ToLower(valueStr)
		return lower == "" || lower == "null" || lower == "none"
	}
	return stringify(left) == valueStr
}

func evalContains(left any, valueStr string) bool {
	switch v := left.(type) {
	case string:
		return strings.Contains(v, valueStr)
	case []any:
		for _, item := range v {
			if item == valueStr {
				return true
			}
			if s, ok := item.(string); ok && s == valueStr {
				return true
			}
			if isNumber(item) {
				if f, err := strconv.ParseFloat(valueStr, 64); err == nil && toFloat(item) == f {
					return true
				}
			}
		}
		return false
	case map[string]any:
		_, ok := v[valueStr]
		return ok
	default:
		return false
	}
}
