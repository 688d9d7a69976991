// Package catalog loads workflow definitions from a directory of YAML
// files, compiles them, and serves them to the orchestrator (C8) and the
// list_workflows/inspect_workflow tools. Grounded on the teacher's
// scanAndRegisterPollTriggers (internal/controller/controller.go): a
// plain os.ReadDir over a flat directory, skipping anything that isn't
// a .yaml/.yml file, logging and skipping files that fail to parse
// rather than failing the whole load.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/EtienneBBeaulac/workrail/pkg/workflow"
)

// entry pairs a workflow's authored definition with its compiled,
// hashed snapshot: the orchestrator reads the compiled form, while
// inspect_workflow returns the authored one (it has no separate
// metadata/preview mode).
type entry struct {
	def      *workflow.Definition
	compiled *workflow.CompiledWorkflow
}

// Catalog is a directory-backed, in-memory workflow registry. It
// satisfies orchestrator.Catalog (the Compiled method) without
// orchestrator importing this package, per spec.md §9's "design as
// explicit dependencies" note.
type Catalog struct {
	dir    string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

// New returns a Catalog rooted at dir. Call Reload to populate it; an
// unloaded Catalog behaves as empty rather than erroring, so a server
// can start before the workflows directory exists.
func New(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{dir: dir, logger: logger, entries: map[string]entry{}}
}

// Reload rescans dir and replaces the in-memory registry atomically. A
// workflow file that fails to parse or compile is logged and skipped,
// not treated as a load failure — matching the teacher's tolerance for
// partially-malformed directories during a scan.
func (c *Catalog) Reload() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.entries = map[string]entry{}
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read workflows directory %s: %w", c.dir, err)
	}

	next := map[string]entry{}
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("failed to read workflow file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		def, err := workflow.ParseDefinition(data)
		if err != nil {
			c.logger.Warn("failed to parse workflow definition", slog.String("path", path), slog.Any("error", err))
			continue
		}
		compiled, err := workflow.Compile(def, workflow.CompileOptions{})
		if err != nil {
			c.logger.Warn("failed to compile workflow", slog.String("path", path), slog.Any("error", err))
			continue
		}
		if _, dup := next[def.ID]; dup {
			c.logger.Warn("duplicate workflow id, keeping first occurrence", slog.String("id", def.ID), slog.String("path", path))
			continue
		}
		next[def.ID] = entry{def: def, compiled: compiled}
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
	return nil
}

// Compiled resolves workflowID to its compiled, hashed snapshot
// (orchestrator.Catalog).
func (c *Catalog) Compiled(workflowID string) (*workflow.CompiledWorkflow, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[workflowID]
	if !ok {
		return nil, false, nil
	}
	return e.compiled, true, nil
}

// Definition returns the authored definition behind workflowID, which
// inspect_workflow and `workrail inspect` return whole.
func (c *Catalog) Definition(workflowID string) (*workflow.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[workflowID]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// Summary is list_workflows' per-entry shape (spec.md §6).
type Summary struct {
	ID        string
	Version   string
	StepCount int
}

// List returns every registered workflow, sorted by id for a stable
// listing.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, 0, len(c.entries))
	for id, e := range c.entries {
		out = append(out, Summary{ID: id, Version: e.def.Version, StepCount: len(e.def.Steps)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
