// Package legacycond evaluates the legacy string condition expressions a
// context_variable condition source carries (spec.md glossary: condition
// source; pkg/workflow.ConditionSource.Condition). These are free-form
// boolean expressions over the run's context, kept for workflows authored
// before the typed predicate language existed.
package legacycond

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// Evaluator compiles and evaluates legacy condition strings against a run's
// context. Compiled programs are cached by expression text since the same
// while/until condition is evaluated once per loop iteration.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs expression against ctx and requires a boolean result. An
// empty expression is a compiler-time concern (condition source derivation
// leaves it nil); Evaluate treats it as a caller error.
func (e *Evaluator) Evaluate(expression string, ctx map[string]interface{}) (bool, error) {
	if expression == "" {
		return false, &wrerrors.ValidationEngineError{Kind: wrerrors.EvaluationThrew, Message: "empty legacy condition expression"}
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &wrerrors.ValidationError{
			Field:      "loop.condition",
			Message:    fmt.Sprintf("failed to compile condition: %s", err),
			Suggestion: "check expression syntax; referenced variables must exist in the run context",
		}
	}

	evalCtx := make(map[string]interface{}, len(ctx)+2)
	for k, v := range ctx {
		evalCtx[k] = v
	}
	evalCtx["has"] = containsFunc
	evalCtx["includes"] = containsFunc
	evalCtx["length"] = lenFunc

	result, err := expr.Run(program, evalCtx)
	if err != nil {
		return false, &wrerrors.ValidationEngineError{Kind: wrerrors.EvaluationThrew, Message: fmt.Sprintf("condition evaluation failed: %s", err)}
	}

	b, ok := result.(bool)
	if !ok {
		return false, &wrerrors.ValidationEngineError{Kind: wrerrors.EvaluationThrew, Message: fmt.Sprintf("condition must evaluate to a boolean, got %T", result)}
	}
	return b, nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	env := map[string]interface{}{
		"has":      containsFunc,
		"includes": containsFunc,
		"length":   lenFunc,
	}
	prog, err := expr.Compile(expression, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

// containsFunc reports whether collection contains target: element
// membership for slices, key presence for maps, substring for strings.
func containsFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has requires exactly 2 arguments, got %d", len(args))
	}
	collection, target := args[0], args[1]
	if collection == nil {
		return false, nil
	}
	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), target) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		return v.MapIndex(reflect.ValueOf(target)).IsValid(), nil
	case reflect.String:
		str, ok1 := collection.(string)
		substr, ok2 := target.(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		return len(substr) == 0 || stringsContains(str, substr), nil
	default:
		return false, nil
	}
}

func stringsContains(s, substr string) bool {
	if len(substr) > len(s) {
		return false
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// lenFunc returns the length of a string, slice, array, or map.
func lenFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("length requires exactly 1 argument, got %d", len(args))
	}
	if args[0] == nil {
		return 0, nil
	}
	v := reflect.ValueOf(args[0])
	switch v.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		return v.Len(), nil
	default:
		return 0, fmt.Errorf("length does not support type %T", args[0])
	}
}
