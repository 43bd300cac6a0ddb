// Package canvas is a thin client for the Canvas LMS REST API, covering the
// endpoints the sync engine needs: list-by-parent, get-by-id, create and
// update for modules, module items, pages, assignments, quizzes and files.
// All calls go through the retrying httpx layer; list endpoints follow
// Canvas's Link-header pagination to the last page.
package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvas-sync/internal/httpx"
)

const contentTypeJSON = "application/json"

type Client struct {
	BaseURL  string
	Token    string
	CourseID int64
	PageSize int
	HTTP     *http.Client
	Retry    httpx.RetryConfig
}

func New(baseURL, token string, courseID int64) *Client {
	tr := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		BaseURL:  baseURL,
		Token:    token,
		CourseID: courseID,
		PageSize: 50,
		HTTP: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: tr,
		},
		Retry: httpx.DefaultRetryConfig(),
	}
}

func (c *Client) courseURL(suffix string) string {
	return fmt.Sprintf("%s/api/v1/courses/%d/%s", c.BaseURL, c.CourseID, suffix)
}

func (c *Client) buildJSON(method, rawURL string, payload any) func(context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		var body io.Reader
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(b)
		}
		r, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			r.Header.Set("Content-Type", contentTypeJSON)
		}
		r.Header.Set("Accept", contentTypeJSON)
		r.Header.Set("Authorization", "Bearer "+c.Token)
		return r, nil
	}
}

// listAll fetches every page of a Canvas list endpoint, following rel="next"
// links until the last page. Canvas returns items in position order.
func listAll[T any](ctx context.Context, c *Client, firstURL string) ([]T, error) {
	var all []T
	next := firstURL
	for next != "" {
		var page []T
		header, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodGet, next, nil), &page, c.Retry)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		next = httpx.NextLink(header)
	}
	return all, nil
}

func (c *Client) withPageSize(u string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sper_page=%d", u, sep, c.PageSize)
}

/* -------- Modules -------- */

func (c *Client) ListModules(ctx context.Context) ([]Module, error) {
	return listAll[Module](ctx, c, c.withPageSize(c.courseURL("modules")))
}

func (c *Client) ListModuleItems(ctx context.Context, moduleID int64) ([]ModuleItem, error) {
	return listAll[ModuleItem](ctx, c, c.withPageSize(c.courseURL(fmt.Sprintf("modules/%d/items", moduleID))))
}

func (c *Client) CreateModule(ctx context.Context, req ModuleRequest) (*Module, error) {
	var out Module
	payload := map[string]any{"module": req}
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPost, c.courseURL("modules"), payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: create module: %w", err)
	}
	return &out, nil
}

func (c *Client) UpdateModule(ctx context.Context, id int64, req ModuleRequest) (*Module, error) {
	var out Module
	payload := map[string]any{"module": req}
	u := c.courseURL(fmt.Sprintf("modules/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPut, u, payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: update module %d: %w", id, err)
	}
	return &out, nil
}

func (c *Client) GetModule(ctx context.Context, id int64) (*Module, error) {
	var out Module
	u := c.courseURL(fmt.Sprintf("modules/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodGet, u, nil), &out, c.Retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

/* -------- Module items -------- */

func (c *Client) CreateModuleItem(ctx context.Context, moduleID int64, req ModuleItemRequest) (*ModuleItem, error) {
	var out ModuleItem
	payload := map[string]any{"module_item": req}
	u := c.courseURL(fmt.Sprintf("modules/%d/items", moduleID))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPost, u, payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: create module item in %d: %w", moduleID, err)
	}
	return &out, nil
}

func (c *Client) UpdateModuleItem(ctx context.Context, moduleID, itemID int64, req ModuleItemRequest) (*ModuleItem, error) {
	var out ModuleItem
	payload := map[string]any{"module_item": req}
	u := c.courseURL(fmt.Sprintf("modules/%d/items/%d", moduleID, itemID))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPut, u, payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: update module item %d: %w", itemID, err)
	}
	return &out, nil
}

/* -------- Pages -------- */

func (c *Client) ListPages(ctx context.Context) ([]Page, error) {
	return listAll[Page](ctx, c, c.withPageSize(c.courseURL("pages")))
}

// GetPage resolves the full page, body included; list endpoints omit bodies.
func (c *Client) GetPage(ctx context.Context, pageURL string) (*Page, error) {
	var out Page
	u := c.courseURL("pages/" + url.PathEscape(pageURL))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodGet, u, nil), &out, c.Retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePage(ctx context.Context, req PageRequest) (*Page, error) {
	var out Page
	payload := map[string]any{"wiki_page": req}
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPost, c.courseURL("pages"), payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: create page: %w", err)
	}
	return &out, nil
}

func (c *Client) UpdatePage(ctx context.Context, pageURL string, req PageRequest) (*Page, error) {
	var out Page
	payload := map[string]any{"wiki_page": req}
	u := c.courseURL("pages/" + url.PathEscape(pageURL))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPut, u, payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: update page %s: %w", pageURL, err)
	}
	return &out, nil
}

/* -------- Assignments -------- */

func (c *Client) ListAssignments(ctx context.Context) ([]Assignment, error) {
	return listAll[Assignment](ctx, c, c.withPageSize(c.courseURL("assignments")))
}

func (c *Client) GetAssignment(ctx context.Context, id int64) (*Assignment, error) {
	var out Assignment
	u := c.courseURL(fmt.Sprintf("assignments/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodGet, u, nil), &out, c.Retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAssignment(ctx context.Context, req AssignmentRequest) (*Assignment, error) {
	var out Assignment
	payload := map[string]any{"assignment": req}
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPost, c.courseURL("assignments"), payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: create assignment: %w", err)
	}
	return &out, nil
}

func (c *Client) UpdateAssignment(ctx context.Context, id int64, req AssignmentRequest) (*Assignment, error) {
	var out Assignment
	payload := map[string]any{"assignment": req}
	u := c.courseURL(fmt.Sprintf("assignments/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPut, u, payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: update assignment %d: %w", id, err)
	}
	return &out, nil
}

/* -------- Quizzes -------- */

func (c *Client) ListQuizzes(ctx context.Context) ([]Quiz, error) {
	return listAll[Quiz](ctx, c, c.withPageSize(c.courseURL("quizzes")))
}

func (c *Client) GetQuiz(ctx context.Context, id int64) (*Quiz, error) {
	var out Quiz
	u := c.courseURL(fmt.Sprintf("quizzes/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodGet, u, nil), &out, c.Retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateQuiz(ctx context.Context, req QuizRequest) (*Quiz, error) {
	var out Quiz
	payload := map[string]any{"quiz": req}
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPost, c.courseURL("quizzes"), payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: create quiz: %w", err)
	}
	return &out, nil
}

func (c *Client) UpdateQuiz(ctx context.Context, id int64, req QuizRequest) (*Quiz, error) {
	var out Quiz
	payload := map[string]any{"quiz": req}
	u := c.courseURL(fmt.Sprintf("quizzes/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPut, u, payload), &out, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: update quiz %d: %w", id, err)
	}
	return &out, nil
}

/* -------- Files -------- */

func (c *Client) ListFiles(ctx context.Context) ([]File, error) {
	return listAll[File](ctx, c, c.withPageSize(c.courseURL("files")))
}

func (c *Client) GetFile(ctx context.Context, id int64) (*File, error) {
	var out File
	u := c.courseURL(fmt.Sprintf("files/%d", id))
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodGet, u, nil), &out, c.Retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadFile fetches a file's payload from its download URL. The URL is
// pre-signed by Canvas, so no Authorization header is attached.
func (c *Client) DownloadFile(ctx context.Context, rawURL string) ([]byte, error) {
	_, body, err := httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: download file: %w", err)
	}
	return body, nil
}

type uploadTarget struct {
	UploadURL    string            `json:"upload_url"`
	UploadParams map[string]string `json:"upload_params"`
}

// UploadFile runs the two-step Canvas upload: request an upload target for
// the course, then POST the payload as multipart form data. Returns the
// resulting file object.
func (c *Client) UploadFile(ctx context.Context, name string, data []byte) (*File, error) {
	var target uploadTarget
	req := map[string]any{"name": name, "size": len(data)}
	_, err := httpx.DoJSON(ctx, c.HTTP, c.buildJSON(http.MethodPost, c.courseURL("files"), req), &target, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: request upload for %s: %w", name, err)
	}
	if target.UploadURL == "" {
		return nil, fmt.Errorf("canvas: upload target missing url for %s", name)
	}

	// The multipart body can't be replayed from a shared reader, so it is
	// rebuilt on every retry attempt.
	buildUpload := func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range target.UploadParams {
			if err := w.WriteField(k, v); err != nil {
				return nil, err
			}
		}
		fw, err := w.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		r, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, &buf)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", w.FormDataContentType())
		return r, nil
	}

	_, body, err := httpx.DoWithRetry(ctx, c.HTTP, buildUpload, c.Retry)
	if err != nil {
		return nil, fmt.Errorf("canvas: upload %s: %w", name, err)
	}

	var out File
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("canvas: parse upload response for %s: %w", name, err)
	}
	return &out, nil
}
