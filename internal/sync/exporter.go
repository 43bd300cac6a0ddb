// Package sync is the synchronization core: the change detector, the
// exporter (remote course -> local tree) and the importer (local tree ->
// remote course). Both directions share one content model and one mapping
// store, so repeated runs in either direction never duplicate content.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"

	"canvas-sync/internal/canvas"
	"canvas-sync/internal/concurrency"
	"canvas-sync/internal/content"
	"canvas-sync/internal/httpx"
	"canvas-sync/internal/ignore"
	"canvas-sync/internal/localfs"
	"canvas-sync/internal/store"
)

type Exporter struct {
	Client  *canvas.Client
	Store   *store.Store
	Ignore  *ignore.Matcher
	Root    string
	Workers int

	// Progress draws a terminal progress bar over the write phase.
	Progress bool
}

// remoteEntry pairs a resolved model item with transport-only detail the
// model does not carry (the file payload URL).
type remoteEntry struct {
	item    *content.Item
	fileURL string
}

// Run pulls the full remote course and materializes it under Root. Local
// files with unsynced edits are never overwritten: changed-local items are
// skipped until imported, conflicted items are reported.
func (e *Exporter) Run(ctx context.Context) (*Report, error) {
	runID, err := e.Store.BeginRun("export")
	if err != nil {
		return nil, fmt.Errorf("export: begin run: %w", err)
	}
	rep := &Report{RunID: runID, Direction: "export"}

	modules, children, err := e.fetchCourse(ctx, rep)
	if err != nil {
		return rep, err
	}

	total := len(modules)
	for _, c := range children {
		total += len(c)
	}
	var bar *pb.ProgressBar
	if e.Progress {
		bar = pb.StartNew(total)
		defer bar.Finish()
	}

	for i, mod := range modules {
		// Cooperative checkpoint at every item boundary.
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		dir := e.targetModuleDir(mod.item)
		e.exportModule(rep, mod.item, dir)
		if bar != nil {
			bar.Increment()
		}

		for _, child := range children[i] {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			e.exportLeaf(ctx, rep, child, dir)
			if bar != nil {
				bar.Increment()
			}
		}
	}

	created, updated, unchanged, conflicts, failures := rep.Counts()
	if err := e.Store.FinishRun(runID, created, updated, unchanged, conflicts, failures); err != nil {
		return rep, fmt.Errorf("export: finish run: %w", err)
	}
	return rep, nil
}

// fetchCourse lists the remote tree in platform order and resolves item
// bodies with the bounded pool. Returns modules and, index-aligned, each
// module's children; loose pages come back as a trailing pseudo-module with
// an empty dir.
func (e *Exporter) fetchCourse(ctx context.Context, rep *Report) ([]remoteEntry, [][]remoteEntry, error) {
	mods, err := e.Client.ListModules(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("export: list modules: %w", err)
	}

	var modules []remoteEntry
	var children [][]remoteEntry
	seenPages := map[string]bool{}

	opts := concurrency.ParallelOptions{MaxWorkers: e.Workers}

	for i := range mods {
		mod := &mods[i]
		modules = append(modules, remoteEntry{item: itemFromModule(mod)})

		items, err := e.Client.ListModuleItems(ctx, mod.ID)
		if err != nil {
			if httpx.IsAuthError(err) {
				return nil, nil, err
			}
			rep.AddError(localfs.Slugify(mod.Name), content.KindModule, err)
			children = append(children, nil)
			continue
		}

		for _, mi := range items {
			if mi.Type == "Page" {
				seenPages[mi.PageURL] = true
			}
		}

		resolved, errs := concurrency.ProcessParallel(ctx, items, opts,
			func(ctx context.Context, _ int, mi canvas.ModuleItem) (remoteEntry, error) {
				return e.resolveModuleItem(ctx, &mi)
			})
		for _, err := range errs {
			if httpx.IsAuthError(err) {
				return nil, nil, err
			}
			rep.AddError(localfs.Slugify(mod.Name), content.KindModuleItem, err)
		}

		var ok []remoteEntry
		for _, r := range resolved {
			if r.item != nil {
				ok = append(ok, r)
			}
		}
		children = append(children, ok)
	}

	loose, err := e.fetchLoosePages(ctx, rep, seenPages, opts)
	if err != nil {
		return nil, nil, err
	}
	if len(loose) > 0 {
		modules = append(modules, remoteEntry{})
		children = append(children, loose)
	}

	return modules, children, nil
}

func (e *Exporter) resolveModuleItem(ctx context.Context, mi *canvas.ModuleItem) (remoteEntry, error) {
	switch mi.Type {
	case "Page":
		p, err := e.Client.GetPage(ctx, mi.PageURL)
		if err != nil {
			return remoteEntry{}, fmt.Errorf("resolve page %s: %w", mi.PageURL, err)
		}
		return remoteEntry{item: itemFromPage(p, mi)}, nil
	case "Assignment":
		a, err := e.Client.GetAssignment(ctx, mi.ContentID)
		if err != nil {
			return remoteEntry{}, fmt.Errorf("resolve assignment %d: %w", mi.ContentID, err)
		}
		return remoteEntry{item: itemFromAssignment(a, mi)}, nil
	case "Quiz":
		q, err := e.Client.GetQuiz(ctx, mi.ContentID)
		if err != nil {
			return remoteEntry{}, fmt.Errorf("resolve quiz %d: %w", mi.ContentID, err)
		}
		return remoteEntry{item: itemFromQuiz(q, mi)}, nil
	case "File":
		f, err := e.Client.GetFile(ctx, mi.ContentID)
		if err != nil {
			return remoteEntry{}, fmt.Errorf("resolve file %d: %w", mi.ContentID, err)
		}
		// Source is filled in once the module dir is known.
		return remoteEntry{item: itemFromFile(f, mi, f.Filename), fileURL: f.URL}, nil
	case "ExternalUrl", "SubHeader":
		return remoteEntry{item: itemFromBareModuleItem(mi)}, nil
	default:
		// Unsupported types (discussions, external tools) are left alone.
		return remoteEntry{}, nil
	}
}

func (e *Exporter) fetchLoosePages(ctx context.Context, rep *Report, seen map[string]bool, opts concurrency.ParallelOptions) ([]remoteEntry, error) {
	pages, err := e.Client.ListPages(ctx)
	if err != nil {
		if httpx.IsAuthError(err) {
			return nil, err
		}
		rep.AddError("pages", content.KindPage, err)
		return nil, nil
	}

	var want []canvas.Page
	for _, p := range pages {
		if !seen[p.URL] {
			want = append(want, p)
		}
	}

	resolved, errs := concurrency.ProcessParallel(ctx, want, opts,
		func(ctx context.Context, i int, p canvas.Page) (remoteEntry, error) {
			full, err := e.Client.GetPage(ctx, p.URL)
			if err != nil {
				return remoteEntry{}, fmt.Errorf("resolve page %s: %w", p.URL, err)
			}
			item := itemFromPage(full, nil)
			// Loose pages carry no remote ordering; their position is just
			// their slot in this run's listing.
			item.Position = i + 1
			return remoteEntry{item: item}, nil
		})
	for _, err := range errs {
		if httpx.IsAuthError(err) {
			return nil, err
		}
		rep.AddError("pages", content.KindPage, err)
	}

	var out []remoteEntry
	for _, r := range resolved {
		if r.item != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// targetModuleDir reuses the mapped path when the module was synced before,
// so retitling a module remotely does not spawn a second directory.
func (e *Exporter) targetModuleDir(mod *content.Item) string {
	if mod == nil {
		return "" // loose items live at the root
	}
	if entry, found, _ := e.Store.ByRemote(content.KindModule, mod.RemoteID); found {
		return entry.LocalPath
	}
	return fmt.Sprintf("%02d-%s", mod.Position, localfs.Slugify(mod.Title))
}

func (e *Exporter) targetLeafPath(item *content.Item, dir string) string {
	if entry, found, _ := e.Store.ByRemote(item.Kind, item.RemoteID); found {
		return entry.LocalPath
	}
	name := fmt.Sprintf("%02d-%s.md", item.Position, localfs.Slugify(item.Title))
	if dir == "" {
		name = localfs.Slugify(item.Title) + ".md"
	}
	return path.Join(dir, name)
}

func (e *Exporter) exportModule(rep *Report, mod *content.Item, dir string) {
	if mod == nil {
		return
	}
	if e.Ignore.Ignored(dir) {
		return
	}
	mod.Path = dir
	e.writeWithDetection(rep, remoteEntry{item: mod}, dir, path.Join(dir, localfs.ModuleFileName))
}

func (e *Exporter) exportLeaf(ctx context.Context, rep *Report, entry remoteEntry, dir string) {
	target := e.targetLeafPath(entry.item, dir)
	if e.Ignore.Ignored(target) {
		return
	}
	entry.item.Path = target

	if entry.item.Kind == content.KindFile {
		src := path.Join(dir, "files", entry.item.Meta.Source)
		entry.item.Meta.Source = src
		if err := e.downloadPayload(ctx, entry, src); err != nil {
			rep.AddError(target, entry.item.Kind, err)
			return
		}
	}

	e.writeWithDetection(rep, entry, target, target)
}

func (e *Exporter) downloadPayload(ctx context.Context, entry remoteEntry, src string) error {
	data, err := e.Client.DownloadFile(ctx, entry.fileURL)
	if err != nil {
		return err
	}
	return localfs.WriteFileAtomic(filepath.Join(e.Root, filepath.FromSlash(src)), data)
}

// writeWithDetection runs the change detector against the stored mapping
// before touching the local file, then writes and refreshes the mapping.
// recordPath keys the mapping (the directory for modules); filePath is the
// markdown file written.
func (e *Exporter) writeWithDetection(rep *Report, entry remoteEntry, recordPath, filePath string) {
	item := entry.item
	remoteHash := content.Hash(item)

	mapping, hasMapping, err := e.Store.Lookup(recordPath)
	if err != nil {
		rep.AddError(recordPath, item.Kind, err)
		return
	}

	localItem, localErr := e.readLocal(filePath)
	var merr *content.MalformedContentError
	if errors.As(localErr, &merr) {
		// Never clobber a file we cannot read back.
		rep.AddError(recordPath, item.Kind, localErr)
		return
	}

	if localItem == nil {
		// Nothing on disk: first export, or the operator deleted the file
		// and a pull restores it.
		e.write(rep, entry, recordPath, filePath, remoteHash, ActionCreated)
		return
	}

	localHash := content.Hash(localItem)
	if !hasMapping {
		if localHash == remoteHash {
			// Untracked but identical: adopt it.
			e.record(rep, item, recordPath, remoteHash, ActionNone, StateUnchanged)
			return
		}
		rep.Add(ItemResult{
			Path: recordPath, Kind: item.Kind, RemoteID: item.RemoteID,
			State: StateConflicted, Action: ActionSkipped,
			Err: &ConflictError{Path: recordPath, RemoteID: item.RemoteID, LocalHash: localHash, RemoteHash: remoteHash},
		})
		return
	}

	switch st := Classify(localHash, mapping.ContentHash, remoteHash, true, true); st {
	case StateUnchanged:
		rep.Add(ItemResult{Path: recordPath, Kind: item.Kind, RemoteID: item.RemoteID, State: st, Action: ActionNone})
	case StateChangedRemote:
		e.write(rep, entry, recordPath, filePath, remoteHash, ActionPulled)
	case StateChangedLocal:
		// Local edits pending import; leave the file alone.
		rep.Add(ItemResult{Path: recordPath, Kind: item.Kind, RemoteID: item.RemoteID, State: st, Action: ActionSkipped})
	case StateConflicted:
		rep.Add(ItemResult{
			Path: recordPath, Kind: item.Kind, RemoteID: item.RemoteID,
			State: st, Action: ActionSkipped,
			Err: &ConflictError{
				Path: recordPath, RemoteID: item.RemoteID,
				StoredHash: mapping.ContentHash, LocalHash: localHash, RemoteHash: remoteHash,
			},
		})
	}
}

func (e *Exporter) write(rep *Report, entry remoteEntry, recordPath, filePath, remoteHash string, action Action) {
	item := entry.item
	data, err := localfs.Render(item)
	if err != nil {
		rep.AddError(recordPath, item.Kind, err)
		return
	}
	abs := filepath.Join(e.Root, filepath.FromSlash(filePath))
	if err := localfs.WriteFileAtomic(abs, data); err != nil {
		rep.AddError(recordPath, item.Kind, err)
		return
	}
	state := StateNew
	if action == ActionPulled {
		state = StateChangedRemote
	}
	e.record(rep, item, recordPath, remoteHash, action, state)
}

func (e *Exporter) record(rep *Report, item *content.Item, recordPath, hash string, action Action, state State) {
	err := e.Store.Record(store.Entry{
		LocalPath:    recordPath,
		Kind:         item.Kind,
		RemoteID:     item.RemoteID,
		ContentHash:  hash,
		LastSyncTime: time.Now().UTC(),
	})
	if err != nil {
		rep.AddError(recordPath, item.Kind, err)
		return
	}
	rep.Add(ItemResult{Path: recordPath, Kind: item.Kind, RemoteID: item.RemoteID, State: state, Action: action})
}

func (e *Exporter) readLocal(filePath string) (*content.Item, error) {
	abs := filepath.Join(e.Root, filepath.FromSlash(filePath))
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	rec, perr := localfs.ParseRecord(filePath, data)
	if perr != nil {
		return nil, perr
	}
	item := rec.Item()
	return item, nil
}
