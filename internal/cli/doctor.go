package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/EtienneBBeaulac/workrail/internal/config"
	"github.com/EtienneBBeaulac/workrail/internal/resume"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/snapshotstore"
	"github.com/EtienneBBeaulac/workrail/internal/token"
	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// doctorResult is the supplemented diagnostics feature SPEC_FULL.md
// adds: a sweep over every recorded session reporting C2's corruption
// classification, grounded on the teacher's diagnostics.DoctorResult
// (commands/diagnostics/doctor.go) — same aggregate-then-report shape,
// re-pointed from provider health to session health.
type doctorResult struct {
	Sessions          []sessionHealth `json:"sessions"`
	OverallHealthy    bool            `json:"overallHealthy"`
	OrphanedSnapshots []string        `json:"orphanedSnapshots,omitempty"`
}

type sessionHealth struct {
	SessionID string `json:"sessionId"`
	Healthy   bool   `json:"healthy"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Location  string `json:"location,omitempty"`
}

func newDoctorCommand() *cobra.Command {
	var rebuildIndex bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the health of every recorded session",
		Long: `Replays every session under the data directory and reports any that
fail C2's load-time checks (head/tail corruption, I/O errors), then
cross-references every pinned
snapshot ref against the content-addressed store and reports any blob
nothing pins — without deleting it.

Pass --rebuild-index to force the resume_session sqlite cache to recompute
every session's row unconditionally, rather than relying on its lazy
mtime-based sync.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, rebuildIndex, asJSON)
		},
	}
	cmd.Flags().BoolVar(&rebuildIndex, "rebuild-index", false, "Force a full resume index rebuild")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func runDoctor(cmd *cobra.Command, rebuildIndex, asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to load configuration", Cause: err}
	}

	sessions := sessionlog.New(cfg.DataDir)
	ids, err := sessions.ListSessionIDs()
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to enumerate sessions", Cause: err}
	}
	sort.Strings(ids)

	result := doctorResult{OverallHealthy: true}
	pinned := map[string]bool{}
	for _, id := range ids {
		health := sessionHealth{SessionID: id, Healthy: true}
		log, err := sessions.Load(id)
		if err != nil {
			health.Healthy = false
			result.OverallHealthy = false
			var healthErr *wrerrors.SessionHealthError
			if errors.As(err, &healthErr) {
				health.Code = string(healthErr.Code)
				health.Reason = healthErr.Reason
				health.Location = string(healthErr.Location)
			} else {
				health.Code = "INTERNAL_ERROR"
				health.Reason = err.Error()
			}
		} else {
			for ref := range log.PinnedSnapshots {
				pinned[ref] = true
			}
		}
		result.Sessions = append(result.Sessions, health)
	}

	orphans, err := orphanedSnapshots(cfg.DataDir, pinned)
	if err != nil {
		return &ExitError{Code: ExitEngineError, Message: "failed to sweep snapshot store", Cause: err}
	}
	result.OrphanedSnapshots = orphans

	if rebuildIndex {
		secret, err := cfg.TokenSecret()
		if err != nil {
			return &ExitError{Code: ExitEngineError, Message: "failed to resolve token secret", Cause: err}
		}
		idx, err := resume.OpenIndex(cfg.DataDir)
		if err != nil {
			return &ExitError{Code: ExitEngineError, Message: "failed to open resume index", Cause: err}
		}
		resolver := resume.New(sessions, idx, token.New(secret), nil, cfg.DataDir)
		if err := resolver.Rebuild(context.Background()); err != nil {
			return &ExitError{Code: ExitEngineError, Message: "failed to rebuild resume index", Cause: err}
		}
	}

	if asJSON {
		if err := outputDoctorJSON(result); err != nil {
			return &ExitError{Code: ExitEngineError, Message: "failed to encode doctor result", Cause: err}
		}
	} else {
		outputDoctorText(result)
	}

	if !result.OverallHealthy {
		return &ExitError{Code: ExitUnhealthy, Message: "one or more sessions are unhealthy"}
	}
	return nil
}

func outputDoctorJSON(result doctorResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func outputDoctorText(result doctorResult) {
	fmt.Println(renderHeader("WorkRail Session Health"))
	fmt.Println()

	if len(result.Sessions) == 0 {
		fmt.Println(renderLabel("No sessions recorded."))
		return
	}

	for _, h := range result.Sessions {
		fmt.Printf("  %s %s\n", renderStatus(h.Healthy), h.SessionID)
		if !h.Healthy {
			fmt.Printf("      %s %s", renderLabel("code:"), h.Code)
			if h.Location != "" {
				fmt.Printf(" (%s)", h.Location)
			}
			fmt.Println()
			if h.Reason != "" {
				fmt.Printf("      %s %s\n", renderLabel("reason:"), h.Reason)
			}
		}
	}
	fmt.Println()

	if result.OverallHealthy {
		fmt.Println(renderStatus(true) + " all sessions healthy")
	} else {
		fmt.Println(renderStatus(false) + " one or more sessions unhealthy")
	}

	fmt.Println()
	if len(result.OrphanedSnapshots) == 0 {
		fmt.Println(renderStatus(true) + " no orphaned snapshots")
		return
	}
	fmt.Printf("%s %d orphaned snapshot(s) (never pinned by a healthy session, not deleted):\n",
		renderStatus(false), len(result.OrphanedSnapshots))
	for _, ref := range result.OrphanedSnapshots {
		fmt.Printf("  %s\n", ref)
	}
}

// orphanedSnapshots reports every digest under the snapshot store that no
// recorded session's manifest pins. It never deletes anything — spec.md
// §3's append-only, nothing-ever-deleted lifecycle rule applies to
// snapshots as much as events, so this is observability only
// (SPEC_FULL.md's snapshot garbage-reporting supplemented feature).
// A snapshot orphaned by a crash before its pinning event reached the
// manifest is expected, not necessarily a bug; the report exists so an
// operator can judge that for themselves.
func orphanedSnapshots(dataDir string, pinned map[string]bool) ([]string, error) {
	store := snapshotstore.New(dataDir)
	digests, err := store.ListDigests()
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, d := range digests {
		if !pinned[d] {
			orphans = append(orphans, d)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}
