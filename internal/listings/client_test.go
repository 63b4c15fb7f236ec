package listings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcherParsesListings(t *testing.T) {
	var requestedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedPath = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1","title":"DriftHacks","mode":"online","source":"devfolio"}]`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.URL, server.Client())
	if err != nil {
		t.Fatalf("failed to construct fetcher: %v", err)
	}
	result, err := fetcher.Fetch(context.Background(), "India", true)
	if err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if !result.Success || len(result.Listings) != 1 || result.Listings[0].Title != "DriftHacks" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if requestedPath != "/hackathons?location=India&force=true" {
		t.Fatalf("unexpected request path: %q", requestedPath)
	}
}

func TestHTTPFetcherTreatsErrorStatusAsRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"refresh in progress"}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(server.URL, server.Client())
	if err != nil {
		t.Fatalf("failed to construct fetcher: %v", err)
	}
	result, err := fetcher.Fetch(context.Background(), "India", false)
	if err != nil {
		t.Fatalf("expected application-level rejection, got fault: %v", err)
	}
	if result.Success || result.Message != "refresh in progress" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestNewHTTPFetcherRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPFetcher("   ", nil); err == nil {
		t.Fatal("expected construction failure")
	}
}
