package sync

import (
	"fmt"
	"strings"

	"canvas-sync/internal/content"
)

// Action is what a run did (or would do) with one item.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionPulled  Action = "pulled"
	ActionNone    Action = "none"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// ItemResult is the per-item outcome. Err is set for skipped/failed items so
// the summary can show the error kind next to the path and remote id.
type ItemResult struct {
	Path     string
	Kind     content.Kind
	RemoteID string
	State    State
	Action   Action
	Err      error
}

// Report collects per-item outcomes for one run. Per-item errors never abort
// the run; they end up here and are summarized at the end.
type Report struct {
	RunID     string
	Direction string
	Results   []ItemResult
}

func (r *Report) Add(res ItemResult) {
	r.Results = append(r.Results, res)
}

func (r *Report) AddError(path string, kind content.Kind, err error) {
	r.Add(ItemResult{Path: path, Kind: kind, Action: ActionFailed, Err: err})
}

// Counts tallies outcomes for the sync_runs log and the summary line.
func (r *Report) Counts() (created, updated, unchanged, conflicts, failures int) {
	for _, res := range r.Results {
		switch {
		case res.State == StateConflicted:
			conflicts++
		case res.Action == ActionCreated:
			created++
		case res.Action == ActionUpdated, res.Action == ActionPulled:
			updated++
		case res.Action == ActionNone:
			unchanged++
		case res.Action == ActionFailed:
			failures++
		}
	}
	return
}

// HasProblems reports whether anything needs operator attention.
func (r *Report) HasProblems() bool {
	_, _, _, conflicts, failures := r.Counts()
	return conflicts > 0 || failures > 0
}

// Summary renders the end-of-run report: one line per item that needs
// attention, then the totals.
func (r *Report) Summary() string {
	var b strings.Builder

	for _, res := range r.Results {
		if res.Err == nil && res.State != StateConflicted {
			continue
		}
		id := res.RemoteID
		if id == "" {
			id = "-"
		}
		if res.Err != nil {
			fmt.Fprintf(&b, "  %-12s %s (%s, remote %s): %v\n", res.State, res.Path, res.Kind, id, res.Err)
		} else {
			fmt.Fprintf(&b, "  %-12s %s (%s, remote %s)\n", res.State, res.Path, res.Kind, id)
		}
	}

	created, updated, unchanged, conflicts, failures := r.Counts()
	fmt.Fprintf(&b, "%s: %d created, %d updated, %d unchanged, %d conflicts, %d failures",
		r.Direction, created, updated, unchanged, conflicts, failures)
	return b.String()
}
