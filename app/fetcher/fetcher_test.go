package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(&http.Client{}, nil, "api-comb-test", 2*time.Second)
}

func serveJSON(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func assertKind(t *testing.T, err error, want Kind) *FetchError {
	t.Helper()
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %T: %v", err, err)
	}
	if fetchErr.Kind != want {
		t.Fatalf("Expected kind %s, got %s (%s)", want, fetchErr.Kind, fetchErr.Message)
	}
	return fetchErr
}

func TestFetchRootArray(t *testing.T) {
	server := serveJSON(t, http.StatusOK, `[{"id":"a1","name":"Widget"},{"id":"a2"}]`)

	data, err := newTestFetcher().Fetch(context.Background(), Source{URL: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(data.Records))
	}
	if !strings.HasPrefix(string(data.Raw), "[") {
		t.Errorf("Expected raw array text, got %s", data.Raw)
	}
}

func TestFetchAtJSONPath(t *testing.T) {
	server := serveJSON(t, http.StatusOK, `{"response":{"pages":[{"items":[1,2,3]}]}}`)

	data, err := newTestFetcher().Fetch(context.Background(), Source{
		URL:      server.URL,
		JSONPath: "response/pages[0].items",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Records) != 3 {
		t.Errorf("Expected 3 records, got %d", len(data.Records))
	}
}

func TestFetchArrayNotFoundMessages(t *testing.T) {
	server := serveJSON(t, http.StatusOK, `{"data":{"items":"nope"}}`)
	f := newTestFetcher()

	_, err := f.Fetch(context.Background(), Source{URL: server.URL})
	fetchErr := assertKind(t, err, KindArrayNotFound)
	if !strings.Contains(fetchErr.Message, "No JSON path configured") {
		t.Errorf("Unexpected message without path: %s", fetchErr.Message)
	}

	_, err = f.Fetch(context.Background(), Source{URL: server.URL, JSONPath: "data.items"})
	fetchErr = assertKind(t, err, KindArrayNotFound)
	if !strings.Contains(fetchErr.Message, "data.items") {
		t.Errorf("Unexpected message with path: %s", fetchErr.Message)
	}
}

func TestFetchHTTPStatusTruncatesBody(t *testing.T) {
	server := serveJSON(t, http.StatusServiceUnavailable, strings.Repeat("x", 500))

	_, err := newTestFetcher().Fetch(context.Background(), Source{URL: server.URL})
	fetchErr := assertKind(t, err, KindHTTPStatus)
	if fetchErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", fetchErr.StatusCode)
	}
	if strings.Count(fetchErr.Message, "x") != maxExcerptLength {
		t.Errorf("Expected body excerpt of %d characters, got message %q", maxExcerptLength, fetchErr.Message)
	}
}

func TestFetchInvalidJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"html body", "<html>oops</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := serveJSON(t, http.StatusOK, tt.body)
			_, err := newTestFetcher().Fetch(context.Background(), Source{URL: server.URL})
			assertKind(t, err, KindInvalidJSON)
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := newTestFetcher().Fetch(context.Background(), Source{URL: server.URL, Timeout: 50 * time.Millisecond})
	fetchErr := assertKind(t, err, KindTimeout)
	if !strings.Contains(fetchErr.Message, "50ms") {
		t.Errorf("Expected message to name the 50ms timeout, got %q", fetchErr.Message)
	}
}

func TestFetchTimeoutReportsCallerDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_, err := newTestFetcher().Fetch(ctx, Source{URL: server.URL, Timeout: 5 * time.Second})
	fetchErr := assertKind(t, err, KindTimeout)
	if strings.Contains(fetchErr.Message, "5s") {
		t.Errorf("Expected the caller deadline, not the source timeout, got %q", fetchErr.Message)
	}
	if !strings.Contains(fetchErr.Message, "ms") {
		t.Errorf("Expected a millisecond deadline in %q", fetchErr.Message)
	}
}

func TestFetchNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestFetcher().Fetch(context.Background(), Source{URL: url})
	assertKind(t, err, KindNetwork)
}

func TestFetchInvalidRequest(t *testing.T) {
	_, err := newTestFetcher().Fetch(context.Background(), Source{URL: "://bad"})
	assertKind(t, err, KindRequest)
}

func TestFetchAppliesAuthAndHeaders(t *testing.T) {
	tests := []struct {
		name   string
		auth   Auth
		header string
		want   string
	}{
		{"api key default header", Auth{Type: AuthAPIKey, APIKey: "k1"}, "X-API-Key", "k1"},
		{"api key custom header", Auth{Type: AuthAPIKey, HeaderName: "X-Token", APIKey: "k2"}, "X-Token", "k2"},
		{"basic", Auth{Type: AuthBasic, Username: "user", Password: "pass"}, "Authorization", "Basic dXNlcjpwYXNz"},
		{"bearer", Auth{Type: AuthBearer, Token: "tok"}, "Authorization", "Bearer tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got http.Header
			var method string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				method = r.Method
				w.Write([]byte(`[]`))
			}))
			defer server.Close()

			_, err := newTestFetcher().Fetch(context.Background(), Source{
				URL:     server.URL,
				Method:  "post",
				Auth:    tt.auth,
				Headers: map[string]string{"X-Tenant": "acme"},
			})
			if err != nil {
				t.Fatal(err)
			}
			if method != http.MethodPost {
				t.Errorf("Expected POST, got %s", method)
			}
			if got.Get(tt.header) != tt.want {
				t.Errorf("Expected %s=%q, got %q", tt.header, tt.want, got.Get(tt.header))
			}
			if got.Get("X-Tenant") != "acme" {
				t.Errorf("Expected custom header, got %q", got.Get("X-Tenant"))
			}
			if got.Get("User-Agent") != "api-comb-test" {
				t.Errorf("Expected user agent, got %q", got.Get("User-Agent"))
			}
		})
	}
}
