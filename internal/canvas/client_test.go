package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"canvas-sync/internal/httpx"
)

func testClient(srv *httptest.Server) *Client {
	c := New(srv.URL, "test-token", 42)
	c.Retry.MaxAttempts = 1
	return c
}

func TestListModulesFollowsPagination(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/v1/courses/42/modules", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses/42/modules?page=2>; rel="next"`, srv.URL))
			json.NewEncoder(w).Encode([]Module{{ID: 1, Name: "Week 1", Position: 1}})
		case "2":
			json.NewEncoder(w).Encode([]Module{{ID: 2, Name: "Week 2", Position: 2}})
		}
	})

	mods, err := testClient(srv).ListModules(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("Expected 2 modules across pages, got %d", len(mods))
	}
	if mods[0].Name != "Week 1" || mods[1].Name != "Week 2" {
		t.Errorf("Expected listing order preserved, got %v", mods)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
}

func TestCreatePageWrapsPayload(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/v1/courses/42/pages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		var payload map[string]PageRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Expected wrapped payload, got decode error %v", err)
		}
		req, ok := payload["wiki_page"]
		if !ok {
			t.Fatalf("Expected wiki_page wrapper key, got %v", payload)
		}
		json.NewEncoder(w).Encode(Page{PageID: 7, URL: "syllabus", Title: req.Title, Body: req.Body})
	})

	page, err := testClient(srv).CreatePage(context.Background(), PageRequest{
		Title: "Syllabus", Body: "<p>hello</p>", Published: Bool(true),
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if page.PageID != 7 || page.URL != "syllabus" {
		t.Errorf("Unexpected created page: %+v", page)
	}
}

func TestGetAssignmentNotFound(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/v1/courses/42/assignments/999", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"not found"}]}`, http.StatusNotFound)
	})

	_, err := testClient(srv).GetAssignment(context.Background(), 999)
	if !httpx.IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestUpdateQuiz(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/v1/courses/42/quizzes/5", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("Expected PUT, got %s", r.Method)
		}
		var payload map[string]QuizRequest
		json.NewDecoder(r.Body).Decode(&payload)
		json.NewEncoder(w).Encode(Quiz{ID: 5, Title: payload["quiz"].Title})
	})

	quiz, err := testClient(srv).UpdateQuiz(context.Background(), 5, QuizRequest{Title: "Midterm"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if quiz.Title != "Midterm" {
		t.Errorf("Expected updated title, got %q", quiz.Title)
	}
}

func TestUploadFileTwoStep(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var uploaded bool
	mux.HandleFunc("/api/v1/courses/42/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"upload_url":    srv.URL + "/upload-target",
			"upload_params": map[string]string{"key": "handout.pdf"},
		})
	})
	mux.HandleFunc("/upload-target", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Expected multipart form, got %v", err)
		}
		if r.FormValue("key") != "handout.pdf" {
			t.Errorf("Expected upload params forwarded, got %q", r.FormValue("key"))
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Expected file part, got %v", err)
		}
		f.Close()
		uploaded = true
		json.NewEncoder(w).Encode(File{ID: 31, DisplayName: "handout.pdf"})
	})

	file, err := testClient(srv).UploadFile(context.Background(), "handout.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !uploaded {
		t.Error("Expected the second upload step to run")
	}
	if file.ID != 31 {
		t.Errorf("Unexpected file result: %+v", file)
	}
}
