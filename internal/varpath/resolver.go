// Package varpath resolves the dotted/indexed variable paths used by the
// typed predicate language's `var` field (pkg/workflow.Predicate) and by
// `for`/`forEach` loop count/items expressions, against a run's context
// document (spec.md §4.6).
package varpath

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

const defaultTimeout = 1 * time.Second

// Resolver compiles and caches var-path queries and evaluates them against
// a context document via gojq.
type Resolver struct {
	timeout time.Duration

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func New() *Resolver {
	return &Resolver{timeout: defaultTimeout, cache: make(map[string]*gojq.Code)}
}

// Resolve evaluates path against ctx and returns the value found, or
// found=false when path yields no result (e.g. a missing key). An empty
// path is a caller error: resolvable var paths are never optional.
func (r *Resolver) Resolve(ctx context.Context, path string, data interface{}) (value interface{}, found bool, err error) {
	if path == "" {
		return nil, false, &wrerrors.InterpreterError{Kind: wrerrors.InterpreterMissingContext, Message: "empty variable path"}
	}

	code, err := r.compile(path)
	if err != nil {
		return nil, false, &wrerrors.ValidationEngineError{Kind: wrerrors.InvalidCriteriaFormat, Message: fmt.Sprintf("invalid variable path %q: %s", path, err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		v   interface{}
		ok  bool
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		iter := code.Run(data)
		v, ok := iter.Next()
		if !ok {
			resultCh <- result{nil, false, nil}
			return
		}
		if e, isErr := v.(error); isErr {
			resultCh <- result{nil, false, e}
			return
		}
		if v == nil {
			resultCh <- result{nil, false, nil}
			return
		}
		resultCh <- result{v, true, nil}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, false, &wrerrors.ValidationEngineError{Kind: wrerrors.EvaluationThrew, Message: fmt.Sprintf("resolving %q: %s", path, res.err)}
		}
		return res.v, res.ok, nil
	case <-runCtx.Done():
		return nil, false, &wrerrors.ValidationEngineError{Kind: wrerrors.EvaluationThrew, Message: fmt.Sprintf("resolving %q timed out", path)}
	}
}

func (r *Resolver) compile(path string) (*gojq.Code, error) {
	r.mu.RLock()
	if code, ok := r.cache[path]; ok {
		r.mu.RUnlock()
		return code, nil
	}
	r.mu.RUnlock()

	query, err := gojq.Parse(toQuery(path))
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[path] = code
	r.mu.Unlock()
	return code, nil
}

// toQuery turns a bare dotted/indexed path ("steps.review.approved",
// "inputs.items[0]") into a jq query string (".steps.review.approved").
// Paths already in jq form (leading ".") pass through unchanged.
func toQuery(path string) string {
	if len(path) > 0 && path[0] == '.' {
		return path
	}
	return "." + path
}
