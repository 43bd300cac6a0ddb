// Package ignore decides which local paths stay out of a sync run.
//
// Patterns come from two sources, evaluated as one gitignore-style list:
// the [sync] ignore section of the config file first, then the optional
// per-tree ignore file. Later patterns win, so the local file can re-include
// a path (`!keep.tmp`) that a config pattern excluded.
package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

type Matcher struct {
	gi *gitignore.GitIgnore
}

// New builds a Matcher from config patterns plus the ignore file at
// localIgnorePath (missing file is fine). Both sources are read once; the
// matcher itself never touches the filesystem.
func New(configPatterns []string, localIgnorePath string) (*Matcher, error) {
	lines := make([]string, 0, len(configPatterns))
	lines = append(lines, configPatterns...)

	if localIgnorePath != "" {
		data, err := os.ReadFile(localIgnorePath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("ignore: read %s: %w", localIgnorePath, err)
		}
		if err == nil {
			lines = append(lines, strings.Split(string(data), "\n")...)
		}
	}

	return &Matcher{gi: gitignore.CompileIgnoreLines(lines...)}, nil
}

// Ignored evaluates a path relative to the sync root. Deterministic: the
// same path always yields the same verdict for the life of the Matcher.
func (m *Matcher) Ignored(relpath string) bool {
	if relpath == "" || relpath == "." {
		return false
	}
	return m.gi.MatchesPath(filepath.ToSlash(relpath))
}
