package sync

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
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

type Importer struct {
	Client  *canvas.Client
	Store   *store.Store
	Ignore  *ignore.Matcher
	Root    string
	Workers int

	// DryRun classifies everything but issues no create/update calls and no
	// store writes. Used by the status command.
	DryRun bool

	// Progress draws a terminal progress bar.
	Progress bool
}

// Run walks the local tree and pushes new and locally-changed items to the
// remote course. Modules resolve before their children so child creates can
// reference a valid parent id; siblings go through the bounded pool.
// Changed-remote and conflicted items are reported, never overwritten.
func (imp *Importer) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: "dry-run", Direction: "import"}
	if imp.DryRun {
		rep.Direction = "status"
	} else {
		runID, err := imp.Store.BeginRun("import")
		if err != nil {
			return nil, fmt.Errorf("import: begin run: %w", err)
		}
		rep.RunID = runID
	}

	tree, walkErrs := localfs.BuildTree(imp.Root, imp.Ignore)
	for _, err := range walkErrs {
		rep.AddError(pathOf(err), "", err)
	}

	total := len(tree.Loose)
	for _, mod := range tree.Modules {
		total += 1 + len(mod.Children)
	}
	var bar *pb.ProgressBar
	if imp.Progress {
		bar = pb.StartNew(total)
		defer bar.Finish()
	}

	opts := concurrency.ParallelOptions{MaxWorkers: imp.Workers}

	for _, mod := range tree.Modules {
		// Cooperative checkpoint between items.
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		moduleID, modResult, err := imp.syncModule(ctx, mod)
		if err != nil {
			return rep, err
		}
		rep.Add(modResult)
		if bar != nil {
			bar.Increment()
		}

		miIndex, err := imp.moduleItemIndex(ctx, moduleID)
		if err != nil {
			if httpx.IsAuthError(err) {
				return rep, err
			}
			rep.AddError(mod.Path, content.KindModule, err)
		}

		resolvedParent := moduleID != 0 || imp.DryRun
		results, errs := concurrency.ProcessParallel(ctx, mod.Children, opts,
			func(ctx context.Context, _ int, item *content.Item) (ItemResult, error) {
				if !resolvedParent {
					return ItemResult{
						Path: item.Path, Kind: item.Kind, RemoteID: item.RemoteID,
						Action: ActionSkipped,
						Err:    fmt.Errorf("parent module %s not resolved", mod.Path),
					}, nil
				}
				return imp.syncLeaf(ctx, item, moduleID, miIndex)
			})
		for _, err := range errs {
			if httpx.IsAuthError(err) {
				return rep, err
			}
			rep.AddError(mod.Path, content.KindModule, err)
		}
		for _, res := range results {
			if res.Path != "" {
				rep.Add(res)
			}
			if bar != nil {
				bar.Increment()
			}
		}
	}

	looseResults, errs := concurrency.ProcessParallel(ctx, tree.Loose, opts,
		func(ctx context.Context, _ int, item *content.Item) (ItemResult, error) {
			return imp.syncLeaf(ctx, item, 0, nil)
		})
	for _, err := range errs {
		if httpx.IsAuthError(err) {
			return rep, err
		}
		rep.AddError("", content.KindPage, err)
	}
	for _, res := range looseResults {
		if res.Path != "" {
			rep.Add(res)
		}
		if bar != nil {
			bar.Increment()
		}
	}

	if !imp.DryRun {
		created, updated, unchanged, conflicts, failures := rep.Counts()
		if err := imp.Store.FinishRun(rep.RunID, created, updated, unchanged, conflicts, failures); err != nil {
			return rep, fmt.Errorf("import: finish run: %w", err)
		}
	}
	return rep, nil
}

func pathOf(err error) string {
	if merr, ok := err.(*content.MalformedContentError); ok {
		return merr.Path
	}
	return ""
}

/* -------- Modules -------- */

// syncModule resolves a module's remote id, creating or updating it as
// needed. Returns 0 when the module has no remote id yet (dry run, or the
// create failed).
func (imp *Importer) syncModule(ctx context.Context, mod *content.Item) (int64, ItemResult, error) {
	localHash := content.Hash(mod)

	mapping, hasMapping, err := imp.Store.Lookup(mod.Path)
	if err != nil {
		return 0, failure(mod, err), nil
	}

	if !hasMapping {
		return imp.createModule(ctx, mod, localHash)
	}

	moduleID, err := strconv.ParseInt(mapping.RemoteID, 10, 64)
	if err != nil {
		return 0, failure(mod, fmt.Errorf("bad stored module id %q: %w", mapping.RemoteID, err)), nil
	}

	remote, err := imp.Client.GetModule(ctx, moduleID)
	if err != nil {
		if httpx.IsAuthError(err) {
			return 0, ItemResult{}, err
		}
		if httpx.IsNotFound(err) {
			// Dangling remote id: recreate instead of failing the run.
			return imp.createModule(ctx, mod, localHash)
		}
		return 0, failure(mod, err), nil
	}

	remoteItem := itemFromModule(remote)
	st := Classify(localHash, mapping.ContentHash, content.Hash(remoteItem), true, true)

	res := ItemResult{Path: mod.Path, Kind: content.KindModule, RemoteID: mapping.RemoteID, State: st}
	switch st {
	case StateUnchanged:
		res.Action = ActionNone
	case StateChangedLocal:
		res.Action = ActionUpdated
		if !imp.DryRun {
			_, err := imp.Client.UpdateModule(ctx, moduleID, canvas.ModuleRequest{
				Name:      mod.Title,
				Position:  mod.Position,
				Published: canvas.Bool(mod.Published),
			})
			if err != nil {
				if httpx.IsAuthError(err) {
					return 0, ItemResult{}, err
				}
				return moduleID, failure(mod, err), nil
			}
			if err := imp.record(mod.Path, content.KindModule, mapping.RemoteID, localHash); err != nil {
				return moduleID, failure(mod, err), nil
			}
		}
	case StateChangedRemote:
		res.Action = ActionSkipped // re-export to pull it
	case StateConflicted:
		res.Action = ActionSkipped
		res.Err = &ConflictError{
			Path: mod.Path, RemoteID: mapping.RemoteID,
			StoredHash: mapping.ContentHash, LocalHash: localHash, RemoteHash: content.Hash(remoteItem),
		}
	}
	return moduleID, res, nil
}

func (imp *Importer) createModule(ctx context.Context, mod *content.Item, localHash string) (int64, ItemResult, error) {
	res := ItemResult{Path: mod.Path, Kind: content.KindModule, State: StateNew, Action: ActionCreated}
	if imp.DryRun {
		return 0, res, nil
	}

	created, err := imp.Client.CreateModule(ctx, canvas.ModuleRequest{
		Name:      mod.Title,
		Position:  mod.Position,
		Published: canvas.Bool(mod.Published),
	})
	if err != nil {
		if httpx.IsAuthError(err) {
			return 0, ItemResult{}, err
		}
		return 0, failure(mod, err), nil
	}

	remoteID := strconv.FormatInt(created.ID, 10)
	if err := imp.record(mod.Path, content.KindModule, remoteID, localHash); err != nil {
		return 0, failure(mod, err), nil
	}

	mod.RemoteID = remoteID
	imp.refreshLocalIDs(mod, path.Join(mod.Path, localfs.ModuleFileName))

	res.RemoteID = remoteID
	return created.ID, res, nil
}

// moduleItemIndex lists a module's items once so leaf classification can see
// remote positions without a call per item.
func (imp *Importer) moduleItemIndex(ctx context.Context, moduleID int64) (map[string]*canvas.ModuleItem, error) {
	if moduleID == 0 {
		return nil, nil
	}
	items, err := imp.Client.ListModuleItems(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	index := make(map[string]*canvas.ModuleItem, len(items))
	for i := range items {
		mi := &items[i]
		switch mi.Type {
		case "Page":
			index["page:"+mi.PageURL] = mi
		case "Assignment":
			index["assignment:"+strconv.FormatInt(mi.ContentID, 10)] = mi
		case "Quiz":
			index["quiz:"+strconv.FormatInt(mi.ContentID, 10)] = mi
		case "File":
			index["file:"+strconv.FormatInt(mi.ContentID, 10)] = mi
		case "ExternalUrl", "SubHeader":
			index["module_item:"+strconv.FormatInt(mi.ID, 10)] = mi
		}
	}
	return index, nil
}

/* -------- Leaf items -------- */

func (imp *Importer) syncLeaf(ctx context.Context, item *content.Item, moduleID int64, miIndex map[string]*canvas.ModuleItem) (ItemResult, error) {
	localHash := content.Hash(item)

	mapping, hasMapping, err := imp.Store.Lookup(item.Path)
	if err != nil {
		return failure(item, err), nil
	}

	if !hasMapping {
		return imp.createLeaf(ctx, item, moduleID, localHash)
	}

	remoteItem, found, err := imp.fetchRemoteLeaf(ctx, item.Kind, mapping.RemoteID, miIndex)
	if err != nil {
		if httpx.IsAuthError(err) {
			return ItemResult{}, err
		}
		return failure(item, err), nil
	}
	if !found {
		// 404: the remote object vanished. Convert to a create.
		return imp.createLeaf(ctx, item, moduleID, localHash)
	}

	// Local-only state must not read as remote drift: the payload path of a
	// file lives only on disk, and loose pages carry no remote ordering.
	if item.Kind == content.KindFile {
		remoteItem.Meta.Source = item.Meta.Source
	}
	if remoteItem.Meta.ModuleItemID == "" && item.Kind == content.KindPage {
		remoteItem.Position = item.Position
	}

	st := Classify(localHash, mapping.ContentHash, content.Hash(remoteItem), true, true)
	res := ItemResult{Path: item.Path, Kind: item.Kind, RemoteID: mapping.RemoteID, State: st}

	switch st {
	case StateUnchanged:
		res.Action = ActionNone
	case StateChangedLocal:
		res.Action = ActionUpdated
		if !imp.DryRun {
			if err := imp.updateLeaf(ctx, item, mapping, localHash, miIndex); err != nil {
				if httpx.IsAuthError(err) {
					return ItemResult{}, err
				}
				return failure(item, err), nil
			}
		}
	case StateChangedRemote:
		res.Action = ActionSkipped // re-export to pull it
	case StateConflicted:
		res.Action = ActionSkipped
		res.Err = &ConflictError{
			Path: item.Path, RemoteID: mapping.RemoteID,
			StoredHash: mapping.ContentHash, LocalHash: localHash, RemoteHash: content.Hash(remoteItem),
		}
	}
	return res, nil
}

// fetchRemoteLeaf gets the current remote state for a mapped item. found is
// false on 404.
func (imp *Importer) fetchRemoteLeaf(ctx context.Context, kind content.Kind, remoteID string, miIndex map[string]*canvas.ModuleItem) (*content.Item, bool, error) {
	notFound := func(err error) (*content.Item, bool, error) {
		if httpx.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	switch kind {
	case content.KindPage:
		p, err := imp.Client.GetPage(ctx, remoteID)
		if err != nil {
			return notFound(err)
		}
		return itemFromPage(p, miIndex["page:"+p.URL]), true, nil
	case content.KindAssignment:
		id, _ := strconv.ParseInt(remoteID, 10, 64)
		a, err := imp.Client.GetAssignment(ctx, id)
		if err != nil {
			return notFound(err)
		}
		return itemFromAssignment(a, miIndex["assignment:"+remoteID]), true, nil
	case content.KindQuiz:
		id, _ := strconv.ParseInt(remoteID, 10, 64)
		q, err := imp.Client.GetQuiz(ctx, id)
		if err != nil {
			return notFound(err)
		}
		return itemFromQuiz(q, miIndex["quiz:"+remoteID]), true, nil
	case content.KindFile:
		id, _ := strconv.ParseInt(remoteID, 10, 64)
		f, err := imp.Client.GetFile(ctx, id)
		if err != nil {
			return notFound(err)
		}
		return itemFromFile(f, miIndex["file:"+remoteID], ""), true, nil
	case content.KindModuleItem:
		mi, ok := miIndex["module_item:"+remoteID]
		if !ok {
			return nil, false, nil
		}
		return itemFromBareModuleItem(mi), true, nil
	}
	return nil, false, fmt.Errorf("unsupported kind %q", kind)
}

func (imp *Importer) createLeaf(ctx context.Context, item *content.Item, moduleID int64, localHash string) (ItemResult, error) {
	res := ItemResult{Path: item.Path, Kind: item.Kind, State: StateNew, Action: ActionCreated}
	if imp.DryRun {
		return res, nil
	}

	var remoteID, moduleItemID string
	var err error

	switch item.Kind {
	case content.KindPage:
		remoteID, moduleItemID, err = imp.createPage(ctx, item, moduleID)
	case content.KindAssignment:
		remoteID, moduleItemID, err = imp.createAssignment(ctx, item, moduleID)
	case content.KindQuiz:
		remoteID, moduleItemID, err = imp.createQuiz(ctx, item, moduleID)
	case content.KindFile:
		remoteID, moduleItemID, err = imp.createFile(ctx, item, moduleID)
	case content.KindModuleItem:
		remoteID, err = imp.createBareItem(ctx, item, moduleID)
		moduleItemID = remoteID
	default:
		err = fmt.Errorf("unsupported kind %q", item.Kind)
	}
	if err != nil {
		if httpx.IsAuthError(err) {
			return ItemResult{}, err
		}
		return failure(item, err), nil
	}

	if err := imp.record(item.Path, item.Kind, remoteID, localHash); err != nil {
		return failure(item, err), nil
	}

	item.RemoteID = remoteID
	item.Meta.ModuleItemID = moduleItemID
	imp.refreshLocalIDs(item, item.Path)

	res.RemoteID = remoteID
	return res, nil
}

func (imp *Importer) createPage(ctx context.Context, item *content.Item, moduleID int64) (string, string, error) {
	p, err := imp.Client.CreatePage(ctx, canvas.PageRequest{
		Title: item.Title, Body: item.Body, Published: canvas.Bool(item.Published),
	})
	if err != nil {
		return "", "", err
	}
	miID, err := imp.attachToModule(ctx, moduleID, canvas.ModuleItemRequest{
		Type: "Page", PageURL: p.URL, Title: item.Title,
		Position: item.Position, Published: canvas.Bool(item.Published),
	})
	return p.URL, miID, err
}

func (imp *Importer) createAssignment(ctx context.Context, item *content.Item, moduleID int64) (string, string, error) {
	a, err := imp.Client.CreateAssignment(ctx, canvas.AssignmentRequest{
		Name: item.Title, Description: item.Body, Position: item.Position,
		Published: canvas.Bool(item.Published),
		DueAt:     item.Meta.DueAt, UnlockAt: item.Meta.UnlockAt, LockAt: item.Meta.LockAt,
		PointsPossible: item.Meta.PointsPossible, SubmissionTypes: item.Meta.SubmissionTypes,
	})
	if err != nil {
		return "", "", err
	}
	miID, err := imp.attachToModule(ctx, moduleID, canvas.ModuleItemRequest{
		Type: "Assignment", ContentID: a.ID, Title: item.Title,
		Position: item.Position, Published: canvas.Bool(item.Published),
	})
	return strconv.FormatInt(a.ID, 10), miID, err
}

func (imp *Importer) createQuiz(ctx context.Context, item *content.Item, moduleID int64) (string, string, error) {
	q, err := imp.Client.CreateQuiz(ctx, canvas.QuizRequest{
		Title: item.Title, Description: item.Body,
		Published: canvas.Bool(item.Published),
		DueAt:     item.Meta.DueAt, UnlockAt: item.Meta.UnlockAt, LockAt: item.Meta.LockAt,
		PointsPossible: item.Meta.PointsPossible,
	})
	if err != nil {
		return "", "", err
	}
	miID, err := imp.attachToModule(ctx, moduleID, canvas.ModuleItemRequest{
		Type: "Quiz", ContentID: q.ID, Title: item.Title,
		Position: item.Position, Published: canvas.Bool(item.Published),
	})
	return strconv.FormatInt(q.ID, 10), miID, err
}

func (imp *Importer) createFile(ctx context.Context, item *content.Item, moduleID int64) (string, string, error) {
	data, err := os.ReadFile(filepath.Join(imp.Root, filepath.FromSlash(item.Meta.Source)))
	if err != nil {
		return "", "", fmt.Errorf("read payload %s: %w", item.Meta.Source, err)
	}
	f, err := imp.Client.UploadFile(ctx, path.Base(item.Meta.Source), data)
	if err != nil {
		return "", "", err
	}
	miID, err := imp.attachToModule(ctx, moduleID, canvas.ModuleItemRequest{
		Type: "File", ContentID: f.ID, Title: item.Title,
		Position: item.Position, Published: canvas.Bool(item.Published),
	})
	return strconv.FormatInt(f.ID, 10), miID, err
}

func (imp *Importer) createBareItem(ctx context.Context, item *content.Item, moduleID int64) (string, error) {
	if moduleID == 0 {
		return "", fmt.Errorf("external link %s needs a module", item.Path)
	}
	mi, err := imp.Client.CreateModuleItem(ctx, moduleID, canvas.ModuleItemRequest{
		Type: "ExternalUrl", ExternalURL: item.Meta.ExternalURL, Title: item.Title,
		Position: item.Position, Published: canvas.Bool(item.Published),
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(mi.ID, 10), nil
}

// attachToModule wraps newly created content in a module item. moduleID 0
// means the item lives outside any module (loose pages).
func (imp *Importer) attachToModule(ctx context.Context, moduleID int64, req canvas.ModuleItemRequest) (string, error) {
	if moduleID == 0 {
		return "", nil
	}
	mi, err := imp.Client.CreateModuleItem(ctx, moduleID, req)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(mi.ID, 10), nil
}

func (imp *Importer) updateLeaf(ctx context.Context, item *content.Item, mapping *store.Entry, localHash string, miIndex map[string]*canvas.ModuleItem) error {
	switch item.Kind {
	case content.KindPage:
		_, err := imp.Client.UpdatePage(ctx, mapping.RemoteID, canvas.PageRequest{
			Title: item.Title, Body: item.Body, Published: canvas.Bool(item.Published),
		})
		if err != nil {
			return err
		}
	case content.KindAssignment:
		id, _ := strconv.ParseInt(mapping.RemoteID, 10, 64)
		_, err := imp.Client.UpdateAssignment(ctx, id, canvas.AssignmentRequest{
			Name: item.Title, Description: item.Body, Position: item.Position,
			Published: canvas.Bool(item.Published),
			DueAt:     item.Meta.DueAt, UnlockAt: item.Meta.UnlockAt, LockAt: item.Meta.LockAt,
			PointsPossible: item.Meta.PointsPossible, SubmissionTypes: item.Meta.SubmissionTypes,
		})
		if err != nil {
			return err
		}
	case content.KindQuiz:
		id, _ := strconv.ParseInt(mapping.RemoteID, 10, 64)
		_, err := imp.Client.UpdateQuiz(ctx, id, canvas.QuizRequest{
			Title: item.Title, Description: item.Body,
			Published: canvas.Bool(item.Published),
			DueAt:     item.Meta.DueAt, UnlockAt: item.Meta.UnlockAt, LockAt: item.Meta.LockAt,
			PointsPossible: item.Meta.PointsPossible,
		})
		if err != nil {
			return err
		}
	case content.KindFile:
		data, err := os.ReadFile(filepath.Join(imp.Root, filepath.FromSlash(item.Meta.Source)))
		if err != nil {
			return fmt.Errorf("read payload %s: %w", item.Meta.Source, err)
		}
		f, err := imp.Client.UploadFile(ctx, path.Base(item.Meta.Source), data)
		if err != nil {
			return err
		}
		// Re-uploading assigns a fresh file id; point the mapping and the
		// module item at it.
		newID := strconv.FormatInt(f.ID, 10)
		if mi := miIndex["file:"+mapping.RemoteID]; mi != nil {
			if _, err := imp.Client.UpdateModuleItem(ctx, mi.ModuleID, mi.ID, canvas.ModuleItemRequest{ContentID: f.ID}); err != nil {
				return err
			}
		}
		item.RemoteID = newID
		imp.refreshLocalIDs(item, item.Path)
		return imp.record(item.Path, item.Kind, newID, localHash)
	case content.KindModuleItem:
		mi := miIndex["module_item:"+mapping.RemoteID]
		if mi == nil {
			return fmt.Errorf("module item %s not found", mapping.RemoteID)
		}
		_, err := imp.Client.UpdateModuleItem(ctx, mi.ModuleID, mi.ID, canvas.ModuleItemRequest{
			Title: item.Title, ExternalURL: item.Meta.ExternalURL,
			Position: item.Position, Published: canvas.Bool(item.Published),
		})
		if err != nil {
			return err
		}
	}

	// Position and title live on the wrapping module item for page-like
	// content; refresh it alongside the content update.
	if item.Meta.ModuleItemID != "" && item.Kind != content.KindModuleItem {
		if mi := findModuleItem(miIndex, item, mapping.RemoteID); mi != nil {
			_, err := imp.Client.UpdateModuleItem(ctx, mi.ModuleID, mi.ID, canvas.ModuleItemRequest{
				Title: item.Title, Position: item.Position, Published: canvas.Bool(item.Published),
			})
			if err != nil {
				return err
			}
		}
	}

	return imp.record(item.Path, item.Kind, mapping.RemoteID, localHash)
}

func findModuleItem(miIndex map[string]*canvas.ModuleItem, item *content.Item, remoteID string) *canvas.ModuleItem {
	switch item.Kind {
	case content.KindPage:
		return miIndex["page:"+remoteID]
	case content.KindAssignment:
		return miIndex["assignment:"+remoteID]
	case content.KindQuiz:
		return miIndex["quiz:"+remoteID]
	case content.KindFile:
		return miIndex["file:"+remoteID]
	}
	return nil
}

/* -------- Shared helpers -------- */

func (imp *Importer) record(localPath string, kind content.Kind, remoteID, hash string) error {
	return imp.Store.Record(store.Entry{
		LocalPath:    localPath,
		Kind:         kind,
		RemoteID:     remoteID,
		ContentHash:  hash,
		LastSyncTime: time.Now().UTC(),
	})
}

// refreshLocalIDs rewrites a local file so its front matter shows the ids
// the platform just assigned. Remote ids are excluded from content hashes,
// so this never reads as an edit. Best effort: the mapping store, not the
// front matter, is authoritative.
func (imp *Importer) refreshLocalIDs(item *content.Item, filePath string) {
	data, err := localfs.Render(item)
	if err != nil {
		return
	}
	abs := filepath.Join(imp.Root, filepath.FromSlash(filePath))
	_ = localfs.WriteFileAtomic(abs, data)
}

func failure(item *content.Item, err error) ItemResult {
	return ItemResult{
		Path:     item.Path,
		Kind:     item.Kind,
		RemoteID: item.RemoteID,
		Action:   ActionFailed,
		Err:      err,
	}
}
