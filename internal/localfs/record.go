// Package localfs maps the on-disk course tree to the content model. One
// directory per module, one markdown file per leaf item, YAML front matter
// carrying the type and type-specific metadata, then the body. The front
// matter keeps a copy of the remote id for the operator's benefit, but the
// mapping store stays the source of truth for id correspondence.
package localfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"canvas-sync/internal/content"
)

// ModuleFileName holds a module directory's own metadata.
const ModuleFileName = "_module.md"

const frontMatterDelim = "---"

// FrontMatter is the metadata header of one local file.
type FrontMatter struct {
	Type            string   `yaml:"type"`
	Title           string   `yaml:"title"`
	RemoteID        string   `yaml:"remote_id,omitempty"`
	ModuleItemID    string   `yaml:"module_item_id,omitempty"`
	Position        int      `yaml:"position,omitempty"`
	Published       bool     `yaml:"published"`
	DueAt           string   `yaml:"due_at,omitempty"`
	UnlockAt        string   `yaml:"unlock_at,omitempty"`
	LockAt          string   `yaml:"lock_at,omitempty"`
	PointsPossible  float64  `yaml:"points_possible,omitempty"`
	SubmissionTypes []string `yaml:"submission_types,omitempty"`
	Source          string   `yaml:"source,omitempty"`
	ExternalURL     string   `yaml:"external_url,omitempty"`
}

// Record is one parsed local file: path relative to the sync root, metadata,
// body.
type Record struct {
	Path string
	Meta FrontMatter
	Body string
}

// ParseRecord splits front matter from body and validates the header for the
// declared type. Returns *content.MalformedContentError on anything the
// model cannot represent; the caller skips the file and keeps going.
func ParseRecord(relPath string, data []byte) (*Record, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, &content.MalformedContentError{Path: relPath, Reason: "missing front matter header"}
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return nil, &content.MalformedContentError{Path: relPath, Reason: "unterminated front matter"}
	}

	var fm FrontMatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, &content.MalformedContentError{Path: relPath, Reason: fmt.Sprintf("invalid front matter: %v", err)}
	}

	body := rest[end+len(frontMatterDelim)+1:]
	body = strings.TrimPrefix(body, "\n")

	rec := &Record{Path: filepath.ToSlash(relPath), Meta: fm, Body: body}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *Record) validate() error {
	kind := content.Kind(r.Meta.Type)
	if r.Meta.Type == "" {
		return &content.MalformedContentError{Path: r.Path, Reason: "front matter missing required field: type"}
	}
	if !kind.Valid() {
		return &content.MalformedContentError{Path: r.Path, Reason: fmt.Sprintf("unknown type %q", r.Meta.Type)}
	}
	if r.Meta.Title == "" {
		return &content.MalformedContentError{Path: r.Path, Reason: "front matter missing required field: title"}
	}
	switch kind {
	case content.KindFile:
		if r.Meta.Source == "" {
			return &content.MalformedContentError{Path: r.Path, Reason: "file item missing required field: source"}
		}
	case content.KindModuleItem:
		if r.Meta.ExternalURL == "" {
			return &content.MalformedContentError{Path: r.Path, Reason: "module item missing required field: external_url"}
		}
	}
	return nil
}

// Item converts the record into the shared model shape.
func (r *Record) Item() *content.Item {
	return &content.Item{
		RemoteID:  r.Meta.RemoteID,
		Kind:      content.Kind(r.Meta.Type),
		Title:     r.Meta.Title,
		Body:      r.Body,
		Position:  r.Meta.Position,
		Published: r.Meta.Published,
		Path:      r.Path,
		Meta: content.Meta{
			DueAt:           r.Meta.DueAt,
			UnlockAt:        r.Meta.UnlockAt,
			LockAt:          r.Meta.LockAt,
			PointsPossible:  r.Meta.PointsPossible,
			SubmissionTypes: r.Meta.SubmissionTypes,
			Source:          r.Meta.Source,
			ExternalURL:     r.Meta.ExternalURL,
			ModuleItemID:    r.Meta.ModuleItemID,
		},
	}
}

// Render serializes an item back into front matter + body form.
func Render(item *content.Item) ([]byte, error) {
	fm := FrontMatter{
		Type:            string(item.Kind),
		Title:           item.Title,
		RemoteID:        item.RemoteID,
		ModuleItemID:    item.Meta.ModuleItemID,
		Position:        item.Position,
		Published:       item.Published,
		DueAt:           item.Meta.DueAt,
		UnlockAt:        item.Meta.UnlockAt,
		LockAt:          item.Meta.LockAt,
		PointsPossible:  item.Meta.PointsPossible,
		SubmissionTypes: item.Meta.SubmissionTypes,
		Source:          item.Meta.Source,
		ExternalURL:     item.Meta.ExternalURL,
	}

	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("localfs: marshal front matter for %s: %w", item.Path, err)
	}

	var b strings.Builder
	b.WriteString(frontMatterDelim + "\n")
	b.Write(head)
	b.WriteString(frontMatterDelim + "\n")
	if item.Body != "" {
		b.WriteString("\n")
		b.WriteString(item.Body)
	}
	return []byte(b.String()), nil
}

// WriteFileAtomic writes via a temp file in the target directory followed by
// a rename, so an interrupted run never leaves a half-written record.
func WriteFileAtomic(absPath string, data []byte) error {
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("localfs: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".canvas-sync-*")
	if err != nil {
		return fmt.Errorf("localfs: temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localfs: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localfs: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localfs: rename to %s: %w", absPath, err)
	}
	return nil
}

// Slugify turns a title into a filesystem-safe name fragment.
func Slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
