package tracker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListProjects(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		io.WriteString(w, `{"results":[
			{"id":"p1","name":"Alpha","identifier":"ALP"},
			{"id":"p2","name":"Beta","identifier":"BET"}
		]}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok_123", "acme", nil)
	projects, err := client.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("list projects failed: %v", err)
	}
	if gotPath != "/api/v1/workspaces/acme/projects/" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotKey != "tok_123" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if len(projects) != 2 || projects[0].Identifier != "ALP" {
		t.Fatalf("unexpected projects %+v", projects)
	}
}

func TestListItemsParsesDatesAndBuildsFallbackURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":[{
			"id":"i1",
			"sequence_id":12,
			"name":"Fix login",
			"description":"broken",
			"start_date":"2026-03-08",
			"target_date":"2026-03-10",
			"completed_at":"2026-03-09T15:04:05Z",
			"priority":"high",
			"assignees":[{"id":"u1","display_name":"Sam","email":"sam@example.com"}],
			"labels":[{"id":"l1","name":"bug"}],
			"project":"p1",
			"updated_at":"2026-03-09T15:04:05.123456Z"
		}]}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", "acme", nil)
	items, err := client.ListItems(context.Background(), "p1")
	if err != nil {
		t.Fatalf("list items failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if item.SequenceID != 12 {
		t.Fatalf("unexpected sequence id %d", item.SequenceID)
	}
	if item.StartDate == nil || !item.StartDate.Equal(time.Date(2026, time.March, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start date %v", item.StartDate)
	}
	if item.DueDate == nil || !item.DueDate.Equal(time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date %v", item.DueDate)
	}
	if item.CompletedAt == nil {
		t.Fatalf("expected completed timestamp")
	}
	if item.UpdatedAt.IsZero() {
		t.Fatalf("expected updated timestamp")
	}
	want := server.URL + "/acme/projects/p1/issues/i1"
	if item.URL != want {
		t.Fatalf("fallback URL = %q, want %q", item.URL, want)
	}
}

func TestListItemsKeepsItemsWithoutDates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":[{"id":"i1","sequence_id":1,"name":"No dates","project":"p1"}]}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", "acme", nil)
	items, err := client.ListItems(context.Background(), "p1")
	if err != nil {
		t.Fatalf("list items failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected item without dates to be listed")
	}
	if items[0].DueDate != nil || items[0].StartDate != nil || items[0].CompletedAt != nil {
		t.Fatalf("expected nil dates, got %+v", items[0])
	}
}

func TestGetItemNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "issue not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", "acme", nil)
	_, err := client.GetItem(context.Background(), "p1", "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
	if apiErr.Transient() {
		t.Fatalf("404 must not be transient")
	}
}

func TestAPIErrorTransientClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{0, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
	}
	for _, tc := range cases {
		err := &APIError{StatusCode: tc.status, Message: "x"}
		if err.Transient() != tc.transient {
			t.Fatalf("status %d: transient = %v, want %v", tc.status, err.Transient(), tc.transient)
		}
	}
}

func TestDoJSONSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", "acme", nil)
	_, err := client.ListProjects(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.Transient() {
		t.Fatalf("expected 502 to be transient")
	}
}
