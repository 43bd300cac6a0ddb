package sync

import "fmt"

// ConflictError reports an item whose local and remote copies both drifted
// from the stored hash. Carries all three hashes so the operator can see
// what happened before re-exporting or hand-resolving.
type ConflictError struct {
	Path       string
	RemoteID   string
	StoredHash string
	LocalHash  string
	RemoteHash string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict at %s (remote %s): both sides changed since last sync (stored=%.12s local=%.12s remote=%.12s)",
		e.Path, e.RemoteID, e.StoredHash, e.LocalHash, e.RemoteHash)
}
