package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash returns a hex sha256 over the item's body and type-relevant metadata.
// Volatile fields (remote ids, timestamps of the sync itself) stay out so a
// round trip with no edits hashes identically on both sides.
func Hash(item *Item) string {
	var b strings.Builder

	writeField := func(k, v string) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}

	writeField("kind", string(item.Kind))
	writeField("title", item.Title)
	writeField("position", fmt.Sprintf("%d", item.Position))
	writeField("published", fmt.Sprintf("%t", item.Published))

	switch item.Kind {
	case KindAssignment, KindQuiz:
		writeField("due_at", item.Meta.DueAt)
		writeField("unlock_at", item.Meta.UnlockAt)
		writeField("lock_at", item.Meta.LockAt)
		writeField("points", fmt.Sprintf("%g", item.Meta.PointsPossible))
		writeField("submission_types", strings.Join(item.Meta.SubmissionTypes, ","))
	case KindFile:
		writeField("source", item.Meta.Source)
	case KindModuleItem:
		writeField("external_url", item.Meta.ExternalURL)
	}

	// Body last, unnormalized except for line endings so editing on Windows
	// does not read as a content change.
	b.WriteString("body:\n")
	b.WriteString(strings.ReplaceAll(item.Body, "\r\n", "\n"))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
