// Package content holds the platform-agnostic course model. Both the remote
// API listing and the local file tree are projected into the same Item shape
// so change detection works on one representation regardless of origin.
//
// The model is transient: it is rebuilt on every export or import run and is
// never the source of truth for id correspondence (the mapping store is).
package content

import "fmt"

// Kind discriminates the Item variant. The Canvas API is loosely typed
// (fields vary per content type); keeping an explicit tag makes
// missing-field handling a compile-time concern instead of a probe at every
// use site.
type Kind string

const (
	KindModule     Kind = "module"
	KindModuleItem Kind = "module_item" // headers, external links: no backing content object
	KindPage       Kind = "page"
	KindAssignment Kind = "assignment"
	KindQuiz       Kind = "quiz"
	KindFile       Kind = "file"
)

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindModule, KindModuleItem, KindPage, KindAssignment, KindQuiz, KindFile:
		return true
	}
	return false
}

// Meta carries the type-specific attributes. Only the fields relevant to an
// Item's Kind are populated.
type Meta struct {
	// Assignments and quizzes
	DueAt           string
	UnlockAt        string
	LockAt          string
	PointsPossible  float64
	SubmissionTypes []string

	// File resources: path of the payload on disk, relative to the tree root
	Source string

	// Bare module items (external links, subheaders)
	ExternalURL string

	// Remote id of the wrapping module item, when the leaf sits inside a
	// module. Distinct from the content object's own id.
	ModuleItemID string
}

// Item is one course content entity. RemoteID is empty for local items the
// platform has not seen yet. Position orders siblings within their parent;
// ties keep original retrieval order, never title order.
type Item struct {
	RemoteID  string
	Kind      Kind
	Title     string
	Body      string
	Position  int
	Published bool
	Meta      Meta

	// Path is the local file (or directory, for modules) this item maps to,
	// relative to the sync root.
	Path string

	// Children is populated for modules only.
	Children []*Item
}

// Tree is an ordered course snapshot: top-level modules plus items that live
// outside any module (course-level pages).
type Tree struct {
	Modules []*Item
	Loose   []*Item
}

// Walk visits every item parent-first: each module, then its children, then
// the loose items. Visit order is the tree's sibling order.
func (t *Tree) Walk(fn func(parent, item *Item) error) error {
	for _, mod := range t.Modules {
		if err := fn(nil, mod); err != nil {
			return err
		}
		for _, child := range mod.Children {
			if err := fn(mod, child); err != nil {
				return err
			}
		}
	}
	for _, item := range t.Loose {
		if err := fn(nil, item); err != nil {
			return err
		}
	}
	return nil
}

// MalformedContentError marks a local file whose metadata cannot be mapped
// into the model: missing required front matter for its declared type, an
// unknown type, or a parent reference to a directory that does not exist.
// The item is skipped and reported; the run continues.
type MalformedContentError struct {
	Path   string
	Reason string
}

func (e *MalformedContentError) Error() string {
	return fmt.Sprintf("malformed content at %s: %s", e.Path, e.Reason)
}
