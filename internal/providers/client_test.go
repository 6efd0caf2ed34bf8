package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDoJSONDecodesResponseAndForwardsHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing authorization header")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type for JSON body")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["content"] != "hello" {
			t.Errorf("unexpected request body: %v %v", body, err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"id":"42"}`)); err != nil {
			t.Errorf("write failed: %v", err)
		}
	}))
	defer server.Close()

	var out struct {
		ID string `json:"id"`
	}
	headers := map[string]string{"Authorization": "Bearer token"}
	err := doJSON(context.Background(), "test", http.MethodPost, server.URL, headers, map[string]string{"content": "hello"}, &out)
	if err != nil {
		t.Fatalf("doJSON failed: %v", err)
	}
	if out.ID != "42" {
		t.Fatalf("expected decoded id 42, got %q", out.ID)
	}
}

func TestDoJSONReportsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		if _, err := w.Write([]byte(`{"message":"Bad credentials"}`)); err != nil {
			t.Errorf("write failed: %v", err)
		}
	}))
	defer server.Close()

	err := doJSON(context.Background(), "test", http.MethodGet, server.URL, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "Bad credentials") {
		t.Fatalf("expected status and body snippet in error, got %v", err)
	}
}

func TestDoJSONHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := doJSON(ctx, "test", http.MethodGet, server.URL, nil, nil, nil); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
