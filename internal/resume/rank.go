package resume

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/EtienneBBeaulac/workrail/internal/orchestrator"
	"github.com/EtienneBBeaulac/workrail/internal/sessionlog"
	"github.com/EtienneBBeaulac/workrail/internal/token"
)

// maxCandidates bounds resume_session's response (spec.md §4.9).
const maxCandidates = 5

// maxConcurrentProjectionLoads bounds how many of the winning
// candidates' session logs (and the snapshots they pin) get replayed
// at once, so a resume_session call against a data directory with many
// long-lived sessions doesn't fan out one goroutine and one open file
// per candidate unbounded.
const maxConcurrentProjectionLoads = 4

// Candidate is one ranked, resumable session (spec.md §6
// resume_session output).
type Candidate struct {
	StateToken string
	WorkflowID string
	Notes      string
	Rank       int
}

// Resolver implements resume_session: a read-only ranking across
// sessions, backed by the sqlite cache (Index) and minting fresh state
// tokens for the winners directly from the session log (spec.md §4.9,
// §5 "read-only operations ... do not take the lock").
type Resolver struct {
	Sessions *sessionlog.Store
	Index    *Index
	Tokens   *token.Codec
	Git      GitSignals
	DataDir  string
}

// New wires a Resolver from its dependencies' natural constructors.
func New(sessions *sessionlog.Store, idx *Index, tokens *token.Codec, git GitSignals, dataDir string) *Resolver {
	return &Resolver{Sessions: sessions, Index: idx, Tokens: tokens, Git: git, DataDir: dataDir}
}

// Resume ranks known sessions against workspacePath's current git state
// and query, returning at most 5 candidates with freshly minted
// stateTokens (spec.md §4.9, §6).
func (r *Resolver) Resume(ctx context.Context, workspacePath, query string) ([]Candidate, error) {
	if err := r.syncIndex(ctx); err != nil {
		return nil, err
	}
	records, err := r.Index.All(ctx)
	if err != nil {
		return nil, err
	}

	var headSHA, branch string
	if r.Git != nil && workspacePath != "" {
		headSHA, _ = r.Git.HeadSHA(ctx, workspacePath)
		branch, _ = r.Git.Branch(ctx, workspacePath)
	}

	ranked := make([]rankedRecord, 0, len(records))
	for _, rec := range records {
		ranked = append(ranked, rankedRecord{rec: rec, tier: classify(rec, headSHA, branch, query)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].tier != ranked[j].tier {
			return ranked[i].tier < ranked[j].tier
		}
		return ranked[i].rec.LastEventIndex > ranked[j].rec.LastEventIndex
	})
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}

	resolved := make([]*Candidate, len(ranked))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentProjectionLoads)
	for i, rr := range ranked {
		i, rr := i, rr
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			proj, err := orchestrator.LoadProjection(r.Sessions, rr.rec.SessionID)
			if err != nil {
				return err
			}
			tip := proj.TipNode()
			if tip == nil {
				return nil
			}
			stateToken, err := r.Tokens.SignState(token.StatePayload{
				SessionID:       rr.rec.SessionID,
				RunID:           proj.RunID,
				NodeID:          tip.ID,
				WorkflowHashRef: proj.WorkflowHash,
			})
			if err != nil {
				return err
			}
			resolved[i] = &Candidate{
				StateToken: stateToken,
				WorkflowID: rr.rec.WorkflowID,
				Notes:      rr.rec.LastNotes,
				Rank:       rr.tier,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(resolved))
	for _, c := range resolved {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates, nil
}

type rankedRecord struct {
	rec  Record
	tier int
}

// classify assigns rec the lowest-numbered tier it matches, per spec.md
// §4.9's 5-tier algorithm. Tier 5 (recency) is the unconditional
// fallback every record satisfies; sort order does the rest.
func classify(rec Record, headSHA, branch, query string) int {
	if headSHA != "" && rec.HeadSHA != "" && rec.HeadSHA == headSHA {
		return 1
	}
	if branch != "" && rec.Branch != "" && branchMatches(rec.Branch, branch) {
		return 2
	}
	if query != "" && containsFold(rec.LastNotes, query) {
		return 3
	}
	if query != "" && containsFold(rec.WorkflowID, query) {
		return 4
	}
	return 5
}

func branchMatches(recorded, current string) bool {
	if recorded == current {
		return true
	}
	return strings.HasPrefix(current, recorded) || strings.HasPrefix(recorded, current)
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
