package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	stdsync "sync"
	"testing"

	"canvas-sync/internal/canvas"
	"canvas-sync/internal/ignore"
	"canvas-sync/internal/localfs"
	"canvas-sync/internal/store"
)

// fakeCanvas is an in-memory course behind an httptest server. It implements
// just enough of the REST surface for the exporter and importer, and counts
// content-changing calls so tests can assert a run was a no-op.
type fakeCanvas struct {
	t   *testing.T
	srv *httptest.Server

	mu          stdsync.Mutex
	nextID      int64
	modules     map[int64]*canvas.Module
	items       map[int64][]*canvas.ModuleItem
	pages       map[string]*canvas.Page
	assignments map[int64]*canvas.Assignment
	quizzes     map[int64]*canvas.Quiz
	files       map[int64]*canvas.File
	fileData    map[int64][]byte

	creates  int
	updates  int
	failAuth bool
}

func newFakeCanvas(t *testing.T) *fakeCanvas {
	fc := &fakeCanvas{
		t:           t,
		nextID:      100,
		modules:     map[int64]*canvas.Module{},
		items:       map[int64][]*canvas.ModuleItem{},
		pages:       map[string]*canvas.Page{},
		assignments: map[int64]*canvas.Assignment{},
		quizzes:     map[int64]*canvas.Quiz{},
		files:       map[int64]*canvas.File{},
		fileData:    map[int64][]byte{},
	}

	mux := http.NewServeMux()
	api := "/api/v1/courses/1/"

	mux.HandleFunc("GET "+api+"modules", fc.listModules)
	mux.HandleFunc("POST "+api+"modules", fc.createModule)
	mux.HandleFunc("GET "+api+"modules/{id}", fc.getModule)
	mux.HandleFunc("PUT "+api+"modules/{id}", fc.updateModule)
	mux.HandleFunc("GET "+api+"modules/{id}/items", fc.listItems)
	mux.HandleFunc("POST "+api+"modules/{id}/items", fc.createItem)
	mux.HandleFunc("PUT "+api+"modules/{id}/items/{item}", fc.updateItem)

	mux.HandleFunc("GET "+api+"pages", fc.listPages)
	mux.HandleFunc("POST "+api+"pages", fc.createPage)
	mux.HandleFunc("GET "+api+"pages/{slug}", fc.getPage)
	mux.HandleFunc("PUT "+api+"pages/{slug}", fc.updatePage)

	mux.HandleFunc("GET "+api+"assignments/{id}", fc.getAssignment)
	mux.HandleFunc("POST "+api+"assignments", fc.createAssignment)
	mux.HandleFunc("PUT "+api+"assignments/{id}", fc.updateAssignment)

	mux.HandleFunc("GET "+api+"quizzes/{id}", fc.getQuiz)
	mux.HandleFunc("POST "+api+"quizzes", fc.createQuiz)
	mux.HandleFunc("PUT "+api+"quizzes/{id}", fc.updateQuiz)

	mux.HandleFunc("GET "+api+"files/{id}", fc.getFile)
	mux.HandleFunc("POST "+api+"files", fc.uploadTarget)
	mux.HandleFunc("POST /upload", fc.receiveUpload)
	mux.HandleFunc("GET /download/{id}", fc.download)

	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fc.authFailing() && r.URL.Path != "/upload" {
			http.Error(w, `{"errors":[{"message":"Invalid access token."}]}`, http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCanvas) authFailing() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.failAuth
}

func (fc *fakeCanvas) client() *canvas.Client {
	c := canvas.New(fc.srv.URL, "test-token", 1)
	c.HTTP = fc.srv.Client()
	c.Retry.MaxAttempts = 1
	return c
}

func (fc *fakeCanvas) callCounts() (creates, updates int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.creates, fc.updates
}

func (fc *fakeCanvas) id() int64 {
	fc.nextID++
	return fc.nextID
}

/* -------- Seeding helpers -------- */

func (fc *fakeCanvas) addModule(name string, position int, published bool) *canvas.Module {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	m := &canvas.Module{ID: fc.id(), Name: name, Position: position, Published: published}
	fc.modules[m.ID] = m
	return m
}

func (fc *fakeCanvas) addPage(moduleID int64, title, body string, position int) *canvas.Page {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	p := &canvas.Page{PageID: fc.id(), URL: localfs.Slugify(title), Title: title, Body: body, Published: true}
	fc.pages[p.URL] = p
	if moduleID != 0 {
		mi := &canvas.ModuleItem{
			ID: fc.id(), ModuleID: moduleID, Type: "Page", PageURL: p.URL,
			Title: title, Position: position, Published: true,
		}
		fc.items[moduleID] = append(fc.items[moduleID], mi)
	}
	return p
}

func (fc *fakeCanvas) addAssignment(moduleID int64, name, desc string, position int, points float64) *canvas.Assignment {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	a := &canvas.Assignment{
		ID: fc.id(), Name: name, Description: desc, Position: position,
		Published: true, PointsPossible: points, DueAt: "2026-09-01T23:59:00Z",
	}
	fc.assignments[a.ID] = a
	mi := &canvas.ModuleItem{
		ID: fc.id(), ModuleID: moduleID, Type: "Assignment", ContentID: a.ID,
		Title: name, Position: position, Published: true,
	}
	fc.items[moduleID] = append(fc.items[moduleID], mi)
	return a
}

func (fc *fakeCanvas) addFile(moduleID int64, name string, data []byte, position int) *canvas.File {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	f := &canvas.File{
		ID: fc.id(), DisplayName: name, Filename: name,
		Size: int64(len(data)),
	}
	f.URL = fc.srv.URL + "/download/" + strconv.FormatInt(f.ID, 10)
	fc.files[f.ID] = f
	fc.fileData[f.ID] = data
	mi := &canvas.ModuleItem{
		ID: fc.id(), ModuleID: moduleID, Type: "File", ContentID: f.ID,
		Title: name, Position: position, Published: true,
	}
	fc.items[moduleID] = append(fc.items[moduleID], mi)
	return f
}

/* -------- Handlers -------- */

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request, key string) int64 {
	id, _ := strconv.ParseInt(r.PathValue(key), 10, 64)
	return id
}

func bval(p *bool) bool {
	return p != nil && *p
}

func (fc *fakeCanvas) listModules(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := []canvas.Module{}
	for _, m := range fc.modules {
		out = append(out, *m)
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Position < out[i].Position {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	writeJSON(w, out)
}

func (fc *fakeCanvas) createModule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Module canvas.ModuleRequest `json:"module"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.creates++
	m := &canvas.Module{ID: fc.id(), Name: body.Module.Name, Position: body.Module.Position, Published: bval(body.Module.Published)}
	fc.modules[m.ID] = m
	writeJSON(w, m)
}

func (fc *fakeCanvas) getModule(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	m, ok := fc.modules[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, m)
}

func (fc *fakeCanvas) updateModule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Module canvas.ModuleRequest `json:"module"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	m, ok := fc.modules[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	fc.updates++
	if body.Module.Name != "" {
		m.Name = body.Module.Name
	}
	if body.Module.Position != 0 {
		m.Position = body.Module.Position
	}
	if body.Module.Published != nil {
		m.Published = *body.Module.Published
	}
	writeJSON(w, m)
}

func (fc *fakeCanvas) listItems(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := []canvas.ModuleItem{}
	for _, mi := range fc.items[pathID(r, "id")] {
		out = append(out, *mi)
	}
	writeJSON(w, out)
}

func (fc *fakeCanvas) createItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Item canvas.ModuleItemRequest `json:"module_item"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	moduleID := pathID(r, "id")
	if _, ok := fc.modules[moduleID]; !ok {
		http.NotFound(w, r)
		return
	}
	fc.creates++
	mi := &canvas.ModuleItem{
		ID: fc.id(), ModuleID: moduleID,
		Type: body.Item.Type, ContentID: body.Item.ContentID, PageURL: body.Item.PageURL,
		ExternalURL: body.Item.ExternalURL, Title: body.Item.Title,
		Position: body.Item.Position, Published: bval(body.Item.Published),
	}
	fc.items[moduleID] = append(fc.items[moduleID], mi)
	writeJSON(w, mi)
}

func (fc *fakeCanvas) updateItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Item canvas.ModuleItemRequest `json:"module_item"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	itemID := pathID(r, "item")
	for _, mi := range fc.items[pathID(r, "id")] {
		if mi.ID != itemID {
			continue
		}
		fc.updates++
		if body.Item.Title != "" {
			mi.Title = body.Item.Title
		}
		if body.Item.Position != 0 {
			mi.Position = body.Item.Position
		}
		if body.Item.ContentID != 0 {
			mi.ContentID = body.Item.ContentID
		}
		if body.Item.ExternalURL != "" {
			mi.ExternalURL = body.Item.ExternalURL
		}
		if body.Item.Published != nil {
			mi.Published = *body.Item.Published
		}
		writeJSON(w, mi)
		return
	}
	http.NotFound(w, r)
}

func (fc *fakeCanvas) listPages(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := []canvas.Page{}
	for _, p := range fc.pages {
		out = append(out, *p)
	}
	writeJSON(w, out)
}

func (fc *fakeCanvas) getPage(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	p, ok := fc.pages[r.PathValue("slug")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, p)
}

func (fc *fakeCanvas) createPage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Page canvas.PageRequest `json:"wiki_page"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.creates++
	p := &canvas.Page{
		PageID: fc.id(), URL: localfs.Slugify(body.Page.Title),
		Title: body.Page.Title, Body: body.Page.Body, Published: bval(body.Page.Published),
	}
	fc.pages[p.URL] = p
	writeJSON(w, p)
}

func (fc *fakeCanvas) updatePage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Page canvas.PageRequest `json:"wiki_page"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	p, ok := fc.pages[r.PathValue("slug")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	fc.updates++
	if body.Page.Title != "" {
		p.Title = body.Page.Title
	}
	if body.Page.Body != "" {
		p.Body = body.Page.Body
	}
	if body.Page.Published != nil {
		p.Published = *body.Page.Published
	}
	writeJSON(w, p)
}

func (fc *fakeCanvas) getAssignment(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	a, ok := fc.assignments[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, a)
}

func (fc *fakeCanvas) createAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Assignment canvas.AssignmentRequest `json:"assignment"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.creates++
	a := &canvas.Assignment{
		ID: fc.id(), Name: body.Assignment.Name, Description: body.Assignment.Description,
		Position: body.Assignment.Position, Published: bval(body.Assignment.Published),
		DueAt: body.Assignment.DueAt, UnlockAt: body.Assignment.UnlockAt, LockAt: body.Assignment.LockAt,
		PointsPossible: body.Assignment.PointsPossible, SubmissionTypes: body.Assignment.SubmissionTypes,
	}
	fc.assignments[a.ID] = a
	writeJSON(w, a)
}

func (fc *fakeCanvas) updateAssignment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Assignment canvas.AssignmentRequest `json:"assignment"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	a, ok := fc.assignments[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	fc.updates++
	if body.Assignment.Name != "" {
		a.Name = body.Assignment.Name
	}
	if body.Assignment.Description != "" {
		a.Description = body.Assignment.Description
	}
	if body.Assignment.Position != 0 {
		a.Position = body.Assignment.Position
	}
	if body.Assignment.PointsPossible != 0 {
		a.PointsPossible = body.Assignment.PointsPossible
	}
	if body.Assignment.DueAt != "" {
		a.DueAt = body.Assignment.DueAt
	}
	if body.Assignment.Published != nil {
		a.Published = *body.Assignment.Published
	}
	writeJSON(w, a)
}

func (fc *fakeCanvas) getQuiz(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	q, ok := fc.quizzes[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, q)
}

func (fc *fakeCanvas) createQuiz(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quiz canvas.QuizRequest `json:"quiz"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.creates++
	q := &canvas.Quiz{
		ID: fc.id(), Title: body.Quiz.Title, Description: body.Quiz.Description,
		Published: bval(body.Quiz.Published),
		DueAt:     body.Quiz.DueAt, UnlockAt: body.Quiz.UnlockAt, LockAt: body.Quiz.LockAt,
		PointsPossible: body.Quiz.PointsPossible,
	}
	fc.quizzes[q.ID] = q
	writeJSON(w, q)
}

func (fc *fakeCanvas) updateQuiz(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quiz canvas.QuizRequest `json:"quiz"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	fc.mu.Lock()
	defer fc.mu.Unlock()
	q, ok := fc.quizzes[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	fc.updates++
	if body.Quiz.Title != "" {
		q.Title = body.Quiz.Title
	}
	if body.Quiz.Description != "" {
		q.Description = body.Quiz.Description
	}
	if body.Quiz.Published != nil {
		q.Published = *body.Quiz.Published
	}
	writeJSON(w, q)
}

func (fc *fakeCanvas) getFile(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	f, ok := fc.files[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, f)
}

func (fc *fakeCanvas) uploadTarget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"upload_url":    fc.srv.URL + "/upload",
		"upload_params": map[string]string{"key": "pending"},
	})
}

func (fc *fakeCanvas) receiveUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	part, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.creates++
	f := &canvas.File{ID: fc.id(), DisplayName: hdr.Filename, Filename: hdr.Filename, Size: hdr.Size}
	f.URL = fc.srv.URL + "/download/" + strconv.FormatInt(f.ID, 10)
	fc.files[f.ID] = f
	fc.fileData[f.ID] = data
	writeJSON(w, f)
}

func (fc *fakeCanvas) download(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	data, ok := fc.fileData[pathID(r, "id")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(data)
}

/* -------- Test fixtures -------- */

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), store.DBFileName))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestMatcher(t *testing.T) *ignore.Matcher {
	t.Helper()
	m, err := ignore.New(nil, "")
	if err != nil {
		t.Fatalf("ignore matcher: %v", err)
	}
	return m
}

func newExporter(fc *fakeCanvas, st *store.Store, root string, m *ignore.Matcher) *Exporter {
	return &Exporter{Client: fc.client(), Store: st, Ignore: m, Root: root, Workers: 2}
}

func newImporter(fc *fakeCanvas, st *store.Store, root string, m *ignore.Matcher) *Importer {
	return &Importer{Client: fc.client(), Store: st, Ignore: m, Root: root, Workers: 2}
}

func runExport(t *testing.T, e *Exporter) *Report {
	t.Helper()
	rep, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("export run: %v", err)
	}
	return rep
}

func runImport(t *testing.T, imp *Importer) *Report {
	t.Helper()
	rep, err := imp.Run(context.Background())
	if err != nil {
		t.Fatalf("import run: %v", err)
	}
	return rep
}

func dumpProblems(t *testing.T, rep *Report) {
	t.Helper()
	if rep.HasProblems() {
		t.Fatalf("unexpected problems:\n%s", rep.Summary())
	}
}

func fmtCounts(rep *Report) string {
	c, u, n, x, f := rep.Counts()
	return fmt.Sprintf("created=%d updated=%d unchanged=%d conflicts=%d failures=%d", c, u, n, x, f)
}
