package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

var errMissingBaseURL = errors.New("listings: base URL is required")

// Listing is one event entry from the listings backend.
type Listing struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Mode     string `json:"mode"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl"`
	Location string `json:"location"`
}

// FetchResult is the application-level outcome of a listings fetch. Success
// false with a message is the backend rejecting the request; transport
// faults surface as Go errors instead.
type FetchResult struct {
	Success  bool
	Listings []Listing
	Message  string
}

// Fetcher retrieves listings for a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string, force bool) (FetchResult, error)
}

// HTTPFetcher talks to the listings backend over HTTP.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher constructs an HTTPFetcher. A nil client gets a default with
// a bounded request timeout.
func NewHTTPFetcher(baseURL string, client *http.Client) (*HTTPFetcher, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &HTTPFetcher{baseURL: trimmed, client: client}, nil
}

// Fetch requests the listings for a location. A non-2xx response with a
// recognizable error body is an application-level rejection, not a fault.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string, force bool) (FetchResult, error) {
	endpoint := fmt.Sprintf("%s/hackathons?location=%s", f.baseURL, url.QueryEscape(location))
	if force {
		endpoint += "&force=true"
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FetchResult{}, fmt.Errorf("listings: build request: %w", err)
	}
	response, err := f.client.Do(request)
	if err != nil {
		return FetchResult{}, fmt.Errorf("listings: fetch: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return FetchResult{}, fmt.Errorf("listings: read response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		message := fmt.Sprintf("listings backend returned %d", response.StatusCode)
		if err := json.Unmarshal(body, &envelope); err == nil {
			if envelope.Error != "" {
				message = envelope.Error
			} else if envelope.Message != "" {
				message = envelope.Message
			}
		}
		return FetchResult{Message: message}, nil
	}

	var entries []Listing
	if err := json.Unmarshal(body, &entries); err != nil {
		return FetchResult{}, fmt.Errorf("listings: decode response: %w", err)
	}
	return FetchResult{Success: true, Listings: entries}, nil
}
