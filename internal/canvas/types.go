package canvas

// REST payloads for the Canvas endpoints the sync engine consumes. Fields
// not listed here are ignored on decode; zero values are omitted on encode
// so partial updates do not blank remote fields.

type Module struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	Published bool   `json:"published"`
}

// ModuleItem wraps one entry of a module. Type is one of "Page",
// "Assignment", "Quiz", "File", "ExternalUrl", "SubHeader". ContentID points
// at the underlying object for all types except pages, which use PageURL.
type ModuleItem struct {
	ID          int64  `json:"id"`
	ModuleID    int64  `json:"module_id"`
	Title       string `json:"title"`
	Position    int    `json:"position"`
	Type        string `json:"type"`
	ContentID   int64  `json:"content_id"`
	PageURL     string `json:"page_url"`
	ExternalURL string `json:"external_url"`
	Published   bool   `json:"published"`
}

type Page struct {
	PageID    int64  `json:"page_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Published bool   `json:"published"`
	FrontPage bool   `json:"front_page"`
}

type Assignment struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Position        int      `json:"position"`
	Published       bool     `json:"published"`
	DueAt           string   `json:"due_at"`
	UnlockAt        string   `json:"unlock_at"`
	LockAt          string   `json:"lock_at"`
	PointsPossible  float64  `json:"points_possible"`
	SubmissionTypes []string `json:"submission_types"`
}

type Quiz struct {
	ID             int64   `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Published      bool    `json:"published"`
	DueAt          string  `json:"due_at"`
	UnlockAt       string  `json:"unlock_at"`
	LockAt         string  `json:"lock_at"`
	PointsPossible float64 `json:"points_possible"`
	QuizType       string  `json:"quiz_type"`
}

type File struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content-type"`
}

/* -------- Write requests -------- */

// Canvas wraps write bodies in a type key: {"wiki_page": {...}} and so on.

type ModuleRequest struct {
	Name      string `json:"name,omitempty"`
	Position  int    `json:"position,omitempty"`
	Published *bool  `json:"published,omitempty"`
}

type ModuleItemRequest struct {
	Title       string `json:"title,omitempty"`
	Type        string `json:"type,omitempty"`
	ContentID   int64  `json:"content_id,omitempty"`
	PageURL     string `json:"page_url,omitempty"`
	ExternalURL string `json:"external_url,omitempty"`
	Position    int    `json:"position,omitempty"`
	Published   *bool  `json:"published,omitempty"`
}

type PageRequest struct {
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	Published *bool  `json:"published,omitempty"`
}

type AssignmentRequest struct {
	Name            string   `json:"name,omitempty"`
	Description     string   `json:"description,omitempty"`
	Position        int      `json:"position,omitempty"`
	Published       *bool    `json:"published,omitempty"`
	DueAt           string   `json:"due_at,omitempty"`
	UnlockAt        string   `json:"unlock_at,omitempty"`
	LockAt          string   `json:"lock_at,omitempty"`
	PointsPossible  float64  `json:"points_possible,omitempty"`
	SubmissionTypes []string `json:"submission_types,omitempty"`
}

type QuizRequest struct {
	Title          string  `json:"title,omitempty"`
	Description    string  `json:"description,omitempty"`
	Published      *bool   `json:"published,omitempty"`
	DueAt          string  `json:"due_at,omitempty"`
	UnlockAt       string  `json:"unlock_at,omitempty"`
	LockAt         string  `json:"lock_at,omitempty"`
	PointsPossible float64 `json:"points_possible,omitempty"`
	QuizType       string  `json:"quiz_type,omitempty"`
}

// Bool is a helper for the *bool published fields.
func Bool(v bool) *bool { return &v }
