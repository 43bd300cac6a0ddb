package sync

// State classifies one item by comparing the current local hash, the hash
// stored at last successful sync, and a freshly fetched remote hash.
type State int

const (
	// StateNew: no stored mapping (or the mapped remote object is gone and
	// the item must be recreated).
	StateNew State = iota
	// StateUnchanged: neither side drifted from the stored hash.
	StateUnchanged
	// StateChangedLocal: only the local copy changed; safe to push.
	StateChangedLocal
	// StateChangedRemote: only the remote copy changed; safe to pull.
	StateChangedRemote
	// StateConflicted: both sides changed since the last sync. Never
	// overwritten silently; the operator resolves it.
	StateConflicted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateUnchanged:
		return "unchanged"
	case StateChangedLocal:
		return "changed-local"
	case StateChangedRemote:
		return "changed-remote"
	case StateConflicted:
		return "conflicted"
	}
	return "unknown"
}

// Classify is the change detector. Pure: same inputs, same verdict.
// A dangling mapping (remoteExists false) degrades to StateNew so the item
// is recreated instead of failing the run.
func Classify(localHash, storedHash, remoteHash string, hasMapping, remoteExists bool) State {
	if !hasMapping || !remoteExists {
		return StateNew
	}

	localChanged := localHash != storedHash
	remoteChanged := remoteHash != storedHash

	switch {
	case localChanged && remoteChanged:
		return StateConflicted
	case localChanged:
		return StateChangedLocal
	case remoteChanged:
		return StateChangedRemote
	default:
		return StateUnchanged
	}
}
