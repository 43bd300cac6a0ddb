package localfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"canvas-sync/internal/content"
	"canvas-sync/internal/ignore"
)

// BuildTree walks the local course tree and projects it into the content
// model: each directory is a module (its _module.md supplies the metadata,
// with the directory name as fallback), each .md file a leaf item. Ignored
// and hidden paths are skipped. Malformed files are collected as errors and
// left out of the tree; the walk continues.
//
// Positions come from front matter when set, else from directory listing
// order, which os.ReadDir keeps lexical and therefore deterministic.
func BuildTree(root string, ign *ignore.Matcher) (*content.Tree, []error) {
	tree := &content.Tree{}
	var errs []error

	entries, err := os.ReadDir(root)
	if err != nil {
		return tree, []error{fmt.Errorf("localfs: read root %s: %w", root, err)}
	}

	modulePos := 0
	loosePos := 0
	for _, entry := range entries {
		name := entry.Name()
		if skipName(name) || ign.Ignored(name) {
			continue
		}

		if entry.IsDir() {
			modulePos++
			mod, modErrs := buildModule(root, name, modulePos, ign)
			errs = append(errs, modErrs...)
			if mod != nil {
				tree.Modules = append(tree.Modules, mod)
			}
			continue
		}

		if !strings.HasSuffix(name, ".md") {
			continue // payloads and stray files are not records
		}
		loosePos++
		item, err := loadRecord(root, name, loosePos)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tree.Loose = append(tree.Loose, item)
	}

	return tree, errs
}

func buildModule(root, dirName string, fallbackPos int, ign *ignore.Matcher) (*content.Item, []error) {
	var errs []error

	mod := &content.Item{
		Kind:      content.KindModule,
		Title:     dirName,
		Position:  fallbackPos,
		Path:      dirName,
		Published: true,
	}

	metaPath := filepath.Join(root, dirName, ModuleFileName)
	if data, err := os.ReadFile(metaPath); err == nil {
		rec, perr := ParseRecord(filepath.ToSlash(filepath.Join(dirName, ModuleFileName)), data)
		if perr != nil {
			errs = append(errs, perr)
		} else if rec.Meta.Type != string(content.KindModule) {
			errs = append(errs, &content.MalformedContentError{
				Path:   rec.Path,
				Reason: fmt.Sprintf("%s must declare type module, got %q", ModuleFileName, rec.Meta.Type),
			})
		} else {
			mod.RemoteID = rec.Meta.RemoteID
			mod.Title = rec.Meta.Title
			mod.Published = rec.Meta.Published
			if rec.Meta.Position > 0 {
				mod.Position = rec.Meta.Position
			}
		}
	}

	entries, err := os.ReadDir(filepath.Join(root, dirName))
	if err != nil {
		return mod, append(errs, fmt.Errorf("localfs: read module dir %s: %w", dirName, err))
	}

	itemPos := 0
	for _, entry := range entries {
		name := entry.Name()
		rel := filepath.ToSlash(filepath.Join(dirName, name))
		if entry.IsDir() || skipName(name) || name == ModuleFileName {
			continue
		}
		if !strings.HasSuffix(name, ".md") {
			continue
		}
		if ign.Ignored(rel) {
			continue
		}
		itemPos++
		item, err := loadRecord(root, rel, itemPos)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mod.Children = append(mod.Children, item)
	}

	return mod, errs
}

func loadRecord(root, rel string, fallbackPos int) (*content.Item, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("localfs: read %s: %w", rel, err)
	}
	rec, perr := ParseRecord(rel, data)
	if perr != nil {
		return nil, perr
	}

	item := rec.Item()
	if item.Position == 0 {
		item.Position = fallbackPos
	}
	if item.Kind == content.KindFile {
		srcAbs := filepath.Join(root, filepath.FromSlash(item.Meta.Source))
		if _, err := os.Stat(srcAbs); err != nil {
			return nil, &content.MalformedContentError{
				Path:   rel,
				Reason: fmt.Sprintf("source %s does not exist", item.Meta.Source),
			}
		}
	}
	return item, nil
}

func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") && name != ModuleFileName
}
