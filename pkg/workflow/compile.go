package workflow

import (
	"fmt"
	"strings"

	"github.com/EtienneBBeaulac/workrail/pkg/canon"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// CompileOptions configures the compiler's external inputs: the prompt-ref
// registry and the registered output-contract refs (spec.md §4.5 phases 1, 4).
type CompileOptions struct {
	Refs      map[string]string
	Contracts *ContractRegistry
}

type compiler struct {
	refs      map[string]string
	contracts *ContractRegistry

	index       map[string]*CompiledStep
	loops       map[string]*LoopConfig // raw config, kept for phase 6
	loopBodyIDs map[string]bool
	topLevel    []string
}

// Compile lowers an authored Definition into a CompiledWorkflow: ref and
// prompt resolution, step indexing, contract validation, loop-body
// resolution, condition-source derivation, and workflow hashing — in that
// fixed order, failing fast on the first error (spec.md §4.5).
func Compile(def *Definition, opts CompileOptions) (*CompiledWorkflow, error) {
	if def == nil {
		return nil, &wrerrors.ValidationError{Field: "definition", Message: "definition is nil"}
	}
	if def.ID == "" {
		return nil, &wrerrors.ValidationError{Field: "id", Message: "workflow id is required"}
	}
	if len(def.Steps) == 0 {
		return nil, &wrerrors.ValidationError{Field: "steps", Message: "workflow has no steps"}
	}

	refs := make(map[string]string, len(opts.Refs)+len(def.Refs))
	for k, v := range opts.Refs {
		refs[k] = v
	}
	for k, v := range def.Refs {
		refs[k] = v
	}

	contracts := opts.Contracts
	if contracts == nil {
		contracts = DefaultContractRegistry()
	}

	c := &compiler{
		refs:        refs,
		contracts:   contracts,
		index:       make(map[string]*CompiledStep),
		loops:       make(map[string]*LoopConfig),
		loopBodyIDs: make(map[string]bool),
	}

	// Phases 1-5: resolve refs/prompts, index steps (including inline loop
	// bodies), validate output contracts, and register inline loop bodies.
	for _, step := range def.Steps {
		if err := c.compileStep(step, false, true); err != nil {
			return nil, err
		}
		c.topLevel = append(c.topLevel, step.ID)
	}

	// Phase 5 (continued): resolve string-referenced loop bodies now that
	// the whole index is built, and phase 6: derive condition sources.
	compiledLoops := make(map[string]*CompiledLoop, len(c.loops))
	for loopID, cfg := range c.loops {
		cl, err := c.resolveLoop(loopID, cfg)
		if err != nil {
			return nil, err
		}
		compiledLoops[loopID] = cl
	}

	cw := &CompiledWorkflow{
		ID:              def.ID,
		Version:         def.Version,
		TopLevelStepIDs: c.topLevel,
		StepByID:        c.index,
		CompiledLoops:   compiledLoops,
		LoopBodyStepIDs: c.loopBodyIDs,
	}

	// Phase 7: compute the workflow hash over the fully resolved snapshot.
	hash, err := canon.Hash(toHashable(cw))
	if err != nil {
		return nil, wrerrors.Wrap(err, "hashing compiled workflow")
	}
	cw.WorkflowHash = hash

	return cw, nil
}

// compileStep resolves and indexes one step definition. insideLoop marks
// recursion into an inline loop body (used to reject nested loops);
// isTopLevel is only used for documentation/debugging, ordering is tracked
// by the caller for top-level steps.
func (c *compiler) compileStep(step StepDef, insideLoop bool, isTopLevel bool) error {
	if step.ID == "" {
		return &wrerrors.ValidationError{Field: "steps[].id", Message: "step id is required"}
	}
	if _, exists := c.index[step.ID]; exists {
		return &wrerrors.ValidationError{Field: "steps[].id", Message: fmt.Sprintf("duplicate step id %q", step.ID), Suggestion: "step ids must be unique across top-level and inline loop body steps"}
	}

	switch step.Kind {
	case StepKindLoop:
		if insideLoop {
			return &wrerrors.ValidationError{Field: "steps[].loop", Message: fmt.Sprintf("nested loop at step %q is not permitted", step.ID), Suggestion: "flatten nested loops into a single loop body"}
		}
		if step.Loop == nil {
			return &wrerrors.ValidationError{Field: "steps[].loop", Message: fmt.Sprintf("loop step %q has no loop config", step.ID)}
		}
		if err := c.validateLoopConfig(step.ID, step.Loop); err != nil {
			return err
		}

		// Reserve the slot now (as a loop-kind CompiledStep placeholder)
		// so duplicate detection sees it, and stash the raw config for
		// phase 6 resolution once the whole index exists.
		c.index[step.ID] = &CompiledStep{ID: step.ID, Kind: StepKindLoop}
		c.loops[step.ID] = step.Loop

		if step.Loop.Body.Inline != nil {
			for _, bodyStep := range step.Loop.Body.Inline {
				if err := c.compileStep(bodyStep, true, false); err != nil {
					return err
				}
				c.loopBodyIDs[bodyStep.ID] = true
			}
		}
		return nil

	case StepKindLeaf, "":
		prompt, err := c.renderPrompt(step)
		if err != nil {
			return err
		}
		if step.OutputContract != nil && !c.contracts.Has(step.OutputContract.Ref) {
			return &wrerrors.ValidationError{Field: "steps[].outputContract.ref", Message: fmt.Sprintf("unregistered output contract ref %q on step %q", step.OutputContract.Ref, step.ID)}
		}
		c.index[step.ID] = &CompiledStep{
			ID:                 step.ID,
			Kind:               StepKindLeaf,
			Prompt:             prompt,
			RunCondition:       step.RunCondition,
			OutputContract:     step.OutputContract,
			ValidationCriteria: []byte(step.ValidationCriteria),
			Functions:          step.Functions,
		}
		return nil

	default:
		return &wrerrors.ValidationError{Field: "steps[].kind", Message: fmt.Sprintf("unknown step kind %q on step %q", step.Kind, step.ID)}
	}
}

func (c *compiler) validateLoopConfig(stepID string, cfg *LoopConfig) error {
	switch cfg.Kind {
	case LoopWhile, LoopUntil, LoopFor, LoopForEach:
	default:
		return &wrerrors.ValidationError{Field: "steps[].loop.kind", Message: fmt.Sprintf("unknown loop kind %q on step %q", cfg.Kind, stepID)}
	}
	if cfg.MaxIterations < 1 {
		return &wrerrors.ValidationError{Field: "steps[].loop.maxIterations", Message: fmt.Sprintf("loop %q requires maxIterations >= 1", stepID)}
	}
	if cfg.MaxIterations > MaxIterationsCeiling {
		return &wrerrors.ValidationError{Field: "steps[].loop.maxIterations", Message: fmt.Sprintf("loop %q maxIterations %d exceeds safety ceiling %d", stepID, cfg.MaxIterations, MaxIterationsCeiling), Suggestion: fmt.Sprintf("set maxIterations to %d or below", MaxIterationsCeiling)}
	}
	if cfg.Kind == LoopForEach && cfg.Items == "" {
		return &wrerrors.ValidationError{Field: "steps[].loop.items", Message: fmt.Sprintf("forEach loop %q requires items", stepID)}
	}
	if cfg.Kind == LoopFor && cfg.Count == nil {
		return &wrerrors.ValidationError{Field: "steps[].loop.count", Message: fmt.Sprintf("for loop %q requires count", stepID)}
	}
	if cfg.Body.RefStepID == "" && cfg.Body.Inline == nil {
		return &wrerrors.ValidationError{Field: "steps[].loop.body", Message: fmt.Sprintf("loop %q has no body", stepID)}
	}
	return nil
}

// renderPrompt implements phase 2: a step must set exactly one of Prompt or
// PromptBlocks; promptBlocks render in the locked section order goal ->
// constraints -> procedure -> outputRequired -> verify, after refs resolve.
func (c *compiler) renderPrompt(step StepDef) (string, error) {
	hasPrompt := step.Prompt != ""
	hasBlocks := step.PromptBlocks != nil
	if hasPrompt && hasBlocks {
		return "", &wrerrors.ValidationError{Field: "steps[].prompt", Message: fmt.Sprintf("step %q sets both prompt and promptBlocks", step.ID), Suggestion: "use exactly one of prompt or promptBlocks"}
	}
	if hasPrompt {
		return step.Prompt, nil
	}
	if !hasBlocks {
		return "", &wrerrors.ValidationError{Field: "steps[].prompt", Message: fmt.Sprintf("step %q has neither prompt nor promptBlocks", step.ID)}
	}

	var resolvedRefs []string
	for _, ref := range step.PromptBlocks.Refs {
		snippet, ok := c.refs[ref]
		if !ok {
			return "", &wrerrors.ValidationError{Field: "steps[].promptBlocks.refs", Message: fmt.Sprintf("unresolved ref %q on step %q", ref, step.ID)}
		}
		resolvedRefs = append(resolvedRefs, snippet)
	}

	var b strings.Builder
	writeSection := func(label, body string) {
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(label)
		b.WriteString(":\n")
		b.WriteString(body)
	}

	if len(resolvedRefs) > 0 {
		writeSection("refs", strings.Join(resolvedRefs, "\n"))
	}
	writeSection("goal", step.PromptBlocks.Goal)
	if len(step.PromptBlocks.Constraints) > 0 {
		writeSection("constraints", "- "+strings.Join(step.PromptBlocks.Constraints, "\n- "))
	}
	if len(step.PromptBlocks.Procedure) > 0 {
		writeSection("procedure", "1. "+strings.Join(step.PromptBlocks.Procedure, "\n"))
	}
	writeSection("outputRequired", step.PromptBlocks.OutputRequired)
	writeSection("verify", step.PromptBlocks.Verify)

	if b.Len() == 0 {
		return "", &wrerrors.ValidationError{Field: "steps[].promptBlocks", Message: fmt.Sprintf("step %q promptBlocks rendered empty", step.ID)}
	}
	return b.String(), nil
}

// resolveLoop implements the remainder of phase 5 (body resolution for
// string references) and phase 6 (condition source derivation).
func (c *compiler) resolveLoop(loopID string, cfg *LoopConfig) (*CompiledLoop, error) {
	var bodyIDs []string
	if cfg.Body.RefStepID != "" {
		referenced, ok := c.index[cfg.Body.RefStepID]
		if !ok {
			return nil, &wrerrors.ValidationError{Field: "steps[].loop.body", Message: fmt.Sprintf("loop %q body references unknown step %q", loopID, cfg.Body.RefStepID)}
		}
		if referenced.Kind == StepKindLoop {
			return nil, &wrerrors.ValidationError{Field: "steps[].loop.body", Message: fmt.Sprintf("loop %q body references loop step %q; nested loops are not permitted", loopID, cfg.Body.RefStepID)}
		}
		bodyIDs = []string{cfg.Body.RefStepID}
	} else {
		for _, s := range cfg.Body.Inline {
			bodyIDs = append(bodyIDs, s.ID)
		}
	}

	cl := &CompiledLoop{
		LoopID:        loopID,
		Kind:          cfg.Kind,
		MaxIterations: cfg.MaxIterations,
		Count:         cfg.Count,
		Items:         cfg.Items,
		LoopVar:       cfg.LoopVar,
		IndexVar:      cfg.IndexVar,
		BodyStepIDs:   bodyIDs,
	}

	if cfg.Kind != LoopWhile && cfg.Kind != LoopUntil {
		return cl, nil // conditionSource is undefined for for/forEach
	}

	cl.ConditionSource = c.deriveConditionSource(loopID, cfg, bodyIDs)
	return cl, nil
}

func (c *compiler) deriveConditionSource(loopID string, cfg *LoopConfig, bodyIDs []string) *ConditionSource {
	// (a) explicit conditionSource in config.
	if cfg.ConditionSource != nil {
		switch cfg.ConditionSource.Kind {
		case ConditionSourceArtifactContract:
			return &ConditionSource{Kind: ConditionSourceArtifactContract, ArtifactRef: cfg.ConditionSource.Ref, LoopID: loopID}
		case ConditionSourceContextVariable:
			return &ConditionSource{Kind: ConditionSourceContextVariable, Condition: cfg.ConditionSource.Condition}
		}
	}

	// (b) first body step with an outputContract matching the loop-control
	// contract.
	for _, id := range bodyIDs {
		step, ok := c.index[id]
		if !ok || step.OutputContract == nil {
			continue
		}
		if step.OutputContract.Ref == LoopControlContractRef {
			return &ConditionSource{Kind: ConditionSourceArtifactContract, ArtifactRef: step.OutputContract.Ref, LoopID: loopID}
		}
	}

	// (c) legacy condition field.
	if cfg.Condition != "" {
		return &ConditionSource{Kind: ConditionSourceContextVariable, Condition: cfg.Condition}
	}

	// (d) undefined; the interpreter will fail fast if this loop is entered.
	return nil
}
