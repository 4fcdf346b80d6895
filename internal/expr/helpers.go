package expr

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// helperFunctions registers the spec's template/expression helper set
// (len, min, max, sum, any, all, abs, int, float, str, bool) as CEL
// functions bound over cel.DynType, matching the Python sandbox's
// safe_locals helper set exactly by name.
func helperFunctions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("len",
			cel.Overload("len_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Int(dynLen(v.Value()))
				}))),
		cel.Function("min",
			cel.Overload("min_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(minMaxBinding(true)))),
		cel.Function("max",
			cel.Overload("max_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(minMaxBinding(false)))),
		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					items := toAnySlice(v.Value())
					var total float64
					allInt := true
					var intTotal int64
					for _, it := range items {
						f, isInt := numericValue(it)
						total += f
						if !isInt {
							allInt = false
						} else {
							intTotal += int64(f)
						}
					}
					if allInt {
						return types.Int(intTotal)
					}
					return types.Double(total)
				}))),
		cel.Function("any",
			cel.Overload("any_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					for _, it := range toAnySlice(v.Value()) {
						if CoerceBool(it) {
							return types.True
						}
					}
					return types.False
				}))),
		cel.Function("all",
			cel.Overload("all_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					for _, it := range toAnySlice(v.Value()) {
						if !CoerceBool(it) {
							return types.False
						}
					}
					return types.True
				}))),
		cel.Function("abs",
			cel.Overload("abs_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					f, isInt := numericValue(v.Value())
					if f < 0 {
						f = -f
					}
					if isInt {
						return types.Int(int64(f))
					}
					return types.Double(f)
				}))),
		cel.Function("int",
			cel.Overload("int_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					f, _ := numericValue(v.Value())
					return types.Int(int64(f))
				}))),
		cel.Function("float",
			cel.Overload("float_dyn", []*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					f, _ := numericValue(v.Value())
					return types.Double(f)
				}))),
		cel.Function("str",
			cel.Overload("str_dyn", []*cel.Type{cel.DynType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.String(stringifyTemplateValue(v.Value()))
				}))),
		cel.Function("bool",
			cel.Overload("bool_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Bool(CoerceBool(v.Value()))
				}))),
	}
}

func dynLen(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

func toAnySlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, t == float64(int64(t))
	default:
		return 0, false
	}
}

func minMaxBinding(wantMin bool) func(ref.Val) ref.Val {
	return func(v ref.Val) ref.Val {
		items := toAnySlice(v.Value())
		if len(items) == 0 {
			return types.NewErr("%s() arg is an empty sequence", map[bool]string{true: "min", false: "max"}[wantMin])
		}
		best := items[0]
		bestF, _ := numericValue(best)
		for _, it := range items[1:] {
			f, _ := numericValue(it)
			if (wantMin && f < bestF) || (!wantMin && f > bestF) {
				best, bestF = it, f
			}
		}
		f, isInt := numericValue(best)
		if isInt {
			return types.Int(int64(f))
		}
		return types.Double(f)
	}
}

func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
