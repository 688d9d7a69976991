// Package predicate evaluates the typed predicate language spec.md §4.6
// defines for runCondition and validation-criteria condition gates:
// {var, equals}, {var, lt|le|gt|ge}, and nested {and|or|not}. While/until
// loop conditions do not use it; their context_variable branch is a legacy
// string expression evaluated by internal/legacycond. Shared between
// internal/interpreter and internal/validation so both consume identical
// comparison semantics.
package predicate

import (
	"context"
	"reflect"
	"strconv"
	"strings"

	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// Eval evaluates p against data. A nil predicate is vacuously true.
// Comparison is lenient: numeric strings parse as numbers, yes/no/
// true/false coerce to booleans, string equality is case-insensitive.
func Eval(ctx context.Context, p *workflow.Predicate, data interface{}, resolver *varpath.Resolver) (bool, error) {
	if p == nil {
		return true, nil
	}
	if len(p.And) > 0 {
		for _, child := range p.And {
			ok, err := Eval(ctx, child, data, resolver)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	if len(p.Or) > 0 {
		for _, child := range p.Or {
			ok, err := Eval(ctx, child, data, resolver)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	if p.Not != nil {
		ok, err := Eval(ctx, p.Not, data, resolver)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	value, found, err := resolver.Resolve(ctx, p.Var, data)
	if err != nil {
		return false, err
	}

	switch {
	case p.Equals != nil:
		if !found {
			return false, nil // missing variables are falsy for equals
		}
		return looseEqual(value, p.Equals), nil
	case p.Lt != nil:
		return compareNumeric(value, found, p.Var, p.Lt, func(a, b float64) bool { return a < b })
	case p.Le != nil:
		return compareNumeric(value, found, p.Var, p.Le, func(a, b float64) bool { return a <= b })
	case p.Gt != nil:
		return compareNumeric(value, found, p.Var, p.Gt, func(a, b float64) bool { return a > b })
	case p.Ge != nil:
		return compareNumeric(value, found, p.Var, p.Ge, func(a, b float64) bool { return a >= b })
	default:
		return false, nil
	}
}

func compareNumeric(value interface{}, found bool, varName string, operand interface{}, cmp func(a, b float64) bool) (bool, error) {
	if !found {
		return false, missingContextError(varName)
	}
	a, ok := toFloat(value)
	if !ok {
		return false, missingContextError(varName)
	}
	b, ok := toFloat(operand)
	if !ok {
		return false, missingContextError(varName)
	}
	return cmp(a, b), nil
}

func missingContextError(varName string) error {
	return &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, Variable: varName}
}

// looseEqual compares two dynamically-typed values using the coercion
// rules spec.md §4.6 names: boolean words, numeric strings, case-folded
// string equality, falling back to deep equality.
func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := toBool(a); aok {
		if bb, bok := toBool(b); bok {
			return ab == bb
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok2 := b.(string); ok2 {
			return strings.EqualFold(as, bs)
		}
	}
	return reflect.DeepEqual(a, b)
}

// ToFloat coerces v to a float64 using the same lenient rules Eval uses
// for numeric comparisons (numeric types, and numeric strings).
func ToFloat(v interface{}) (float64, bool) {
	return toFloat(v)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "yes", "true":
			return true, true
		case "no", "false":
			return false, true
		default:
			return false, false
		}
	case int:
		return b != 0, true
	case int64:
		return b != 0, true
	case float64:
		return b != 0, true
	case float32:
		return b != 0, true
	default:
		return false, false
	}
}
