// Package validation implements the Validation Engine (C7, spec.md §4.7):
// rule-based and composed validation criteria evaluated against a step's
// reported output, plus typed artifact-contract validation for loop
// control decisions.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/EtienneBBeaulac/workrail/internal/predicate"
	"github.com/EtienneBBeaulac/workrail/internal/varpath"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// RuleKind is the closed set of single-rule forms spec.md §4.7 names.
type RuleKind string

const (
	RuleContains RuleKind = "contains"
	RuleRegex    RuleKind = "regex"
	RuleLength   RuleKind = "length"
	RuleSchema   RuleKind = "schema"
)

// Rule is one validation rule. Exactly one of Contains/Regex/
// MinLength|MaxLength/Schema is set; Kind is derived from which.
type Rule struct {
	Kind      RuleKind
	Contains  string                 `json:"contains,omitempty"`
	Regex     string                 `json:"regex,omitempty"`
	MinLength *int                   `json:"minLength,omitempty"`
	MaxLength *int                   `json:"maxLength,omitempty"`
	Schema    map[string]interface{} `json:"schema,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Condition *workflow.Predicate    `json:"condition,omitempty"`
}

func (r *Rule) deriveKind() error {
	switch {
	case r.Contains != "":
		r.Kind = RuleContains
	case r.Regex != "":
		r.Kind = RuleRegex
	case r.MinLength != nil || r.MaxLength != nil:
		r.Kind = RuleLength
	case r.Schema != nil:
		r.Kind = RuleSchema
	default:
		return &wrerrors.ValidationEngineError{Kind: wrerrors.InvalidCriteriaFormat, Message: "rule has no recognizable form (contains|regex|length|schema)"}
	}
	return nil
}

// Criteria is the parsed validationCriteria tree: a single rule, a legacy
// list of rules (implicit AND), or a composition of and/or/not.
type Criteria struct {
	Rule *Rule
	List []Rule
	And  []*Criteria
	Or   []*Criteria
	Not  *Criteria
}

type compositionWire struct {
	And []json.RawMessage `json:"and,omitempty"`
	Or  []json.RawMessage `json:"or,omitempty"`
	Not json.RawMessage   `json:"not,omitempty"`
}

// ParseCriteria parses raw validationCriteria JSON. Empty/null input means
// "no criteria" (always valid) and returns a nil *Criteria.
func ParseCriteria(raw []byte) (*Criteria, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var rules []Rule
		if err := json.Unmarshal(trimmed, &rules); err != nil {
			return nil, &wrerrors.ValidationEngineError{Kind: wrerrors.InvalidCriteriaFormat, Message: err.Error()}
		}
		for i := range rules {
			if err := rules[i].deriveKind(); err != nil {
				return nil, err
			}
		}
		return &Criteria{List: rules}, nil
	}

	var comp compositionWire
	if err := json.Unmarshal(trimmed, &comp); err == nil && (len(comp.And) > 0 || len(comp.Or) > 0 || len(comp.Not) > 0) {
		c := &Criteria{}
		for _, raw := range comp.And {
			child, err := ParseCriteria(raw)
			if err != nil {
				return nil, err
			}
			c.And = append(c.And, child)
		}
		for _, raw := range comp.Or {
			child, err := ParseCriteria(raw)
			if err != nil {
				return nil, err
			}
			c.Or = append(c.Or, child)
		}
		if len(comp.Not) > 0 {
			child, err := ParseCriteria(comp.Not)
			if err != nil {
				return nil, err
			}
			c.Not = child
		}
		return c, nil
	}

	var rule Rule
	if err := json.Unmarshal(trimmed, &rule); err != nil {
		return nil, &wrerrors.ValidationEngineError{Kind: wrerrors.InvalidCriteriaFormat, Message: err.Error()}
	}
	if err := rule.deriveKind(); err != nil {
		return nil, err
	}
	return &Criteria{Rule: &rule}, nil
}

// Outcome is a validation result: not an error, even when Valid is false.
type Outcome struct {
	Valid       bool
	Issues      []string
	Suggestions []string
	Warnings    []string
}

func merge(into *Outcome, from *Outcome) {
	into.Issues = append(into.Issues, from.Issues...)
	into.Suggestions = append(into.Suggestions, from.Suggestions...)
	into.Warnings = append(into.Warnings, from.Warnings...)
}

// quotedJSONPattern flags author messages that embed a quoted JSON
// snippet, which tends to induce the agent to return JSON-as-a-string
// instead of a structured value (spec.md §4.7).
var quotedJSONPattern = regexp.MustCompile(`"\s*[\{\[]`)

// Engine evaluates validation criteria against reported step output.
type Engine struct {
	resolver *varpath.Resolver
}

func New(resolver *varpath.Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Evaluate runs criteria against output. A nil criteria tree is always
// valid (no rules declared).
func (e *Engine) Evaluate(ctx context.Context, criteria *Criteria, output string, runContext map[string]interface{}) (*Outcome, error) {
	if criteria == nil {
		return &Outcome{Valid: true}, nil
	}

	switch {
	case len(criteria.And) > 0:
		out := &Outcome{Valid: true}
		for _, child := range criteria.And {
			childOut, err := e.Evaluate(ctx, child, output, runContext)
			if err != nil {
				return nil, err
			}
			merge(out, childOut)
			if !childOut.Valid {
				out.Valid = false
			}
		}
		return out, nil

	case len(criteria.Or) > 0:
		out := &Outcome{}
		for _, child := range criteria.Or {
			childOut, err := e.Evaluate(ctx, child, output, runContext)
			if err != nil {
				return nil, err
			}
			if childOut.Valid {
				return &Outcome{Valid: true, Warnings: childOut.Warnings}, nil
			}
			merge(out, childOut)
		}
		return out, nil

	case criteria.Not != nil:
		childOut, err := e.Evaluate(ctx, criteria.Not, output, runContext)
		if err != nil {
			return nil, err
		}
		if childOut.Valid {
			return &Outcome{Valid: false, Issues: []string{"negated rule matched"}}, nil
		}
		return &Outcome{Valid: true}, nil

	case len(criteria.List) > 0:
		out := &Outcome{Valid: true}
		for i := range criteria.List {
			ruleOut, err := e.evalRule(ctx, &criteria.List[i], output, runContext)
			if err != nil {
				return nil, err
			}
			merge(out, ruleOut)
			if !ruleOut.Valid {
				out.Valid = false
			}
		}
		return out, nil

	case criteria.Rule != nil:
		return e.evalRule(ctx, criteria.Rule, output, runContext)

	default:
		return &Outcome{Valid: true}, nil
	}
}

func (e *Engine) evalRule(ctx context.Context, rule *Rule, output string, runContext map[string]interface{}) (*Outcome, error) {
	if rule.Condition != nil {
		gated, err := predicate.Eval(ctx, rule.Condition, runContext, e.resolver)
		if err != nil {
			return nil, err
		}
		if !gated {
			return &Outcome{Valid: true}, nil
		}
	}

	out := &Outcome{Valid: true}
	if quotedJSONPattern.MatchString(output) {
		out.Suggestions = append(out.Suggestions, "output appears to contain a quoted JSON snippet; return structured JSON directly rather than as a string")
	}

	switch rule.Kind {
	case RuleContains:
		if !strings.Contains(output, rule.Contains) {
			out.Valid = false
			out.Issues = append(out.Issues, ruleMessage(rule, fmt.Sprintf("output does not contain %q", rule.Contains)))
		}

	case RuleRegex:
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, &wrerrors.ValidationEngineError{Kind: wrerrors.SchemaCompilationFailed, Message: fmt.Sprintf("invalid regex %q: %s", rule.Regex, err)}
		}
		if !re.MatchString(output) {
			out.Valid = false
			out.Issues = append(out.Issues, ruleMessage(rule, fmt.Sprintf("output does not match pattern %q", rule.Regex)))
		}

	case RuleLength:
		n := len(output)
		if rule.MinLength != nil && n < *rule.MinLength {
			out.Valid = false
			out.Issues = append(out.Issues, ruleMessage(rule, fmt.Sprintf("output length %d is below minimum %d", n, *rule.MinLength)))
		}
		if rule.MaxLength != nil && n > *rule.MaxLength {
			out.Valid = false
			out.Issues = append(out.Issues, ruleMessage(rule, fmt.Sprintf("output length %d exceeds maximum %d", n, *rule.MaxLength)))
		}

	case RuleSchema:
		var data interface{}
		if err := json.Unmarshal([]byte(output), &data); err != nil {
			out.Valid = false
			out.Issues = append(out.Issues, ruleMessage(rule, fmt.Sprintf("output is not valid JSON: %s", err)))
			return out, nil
		}
		if err := schemaValidate(rule.Schema, data, "$"); err != nil {
			out.Valid = false
			out.Issues = append(out.Issues, ruleMessage(rule, err.Error()))
		}

	default:
		return nil, &wrerrors.ValidationEngineError{Kind: wrerrors.InvalidCriteriaFormat, Message: fmt.Sprintf("unknown rule kind %q", rule.Kind)}
	}

	return out, nil
}

func ruleMessage(rule *Rule, fallback string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fallback
}
