package knowledgeclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Snippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lookup" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"snippet":"the office closes at 6pm on weekdays"}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	snippet, err := c.Snippet(context.Background(), "chan-1", "when does the office close")
	if err != nil {
		t.Fatalf("Snippet: %v", err)
	}
	if !strings.Contains(snippet, "6pm") {
		t.Errorf("snippet = %q", snippet)
	}
}

func TestClient_SnippetNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snippet, err := c.Snippet(context.Background(), "chan-1", "anything")
	if err != nil {
		t.Fatalf("Snippet: %v", err)
	}
	if snippet != "" {
		t.Errorf("expected empty snippet, got %q", snippet)
	}
}

func TestClient_SnippetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Snippet(context.Background(), "chan-1", "anything"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty base_url")
	}
	if _, err := New(Config{BaseURL: "not-a-url"}); err == nil {
		t.Fatal("expected error for invalid base_url")
	}
}
