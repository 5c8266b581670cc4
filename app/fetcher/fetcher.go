// Package fetcher performs the outbound call to a third-party API and
// locates the array of records in its JSON response.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lysyi3m/api-comb/app/jsondoc"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second

	maxExcerptLength = 200
	maxBodySize      = 64 << 20
)

type Kind int

const (
	KindRequest Kind = iota
	KindNetwork
	KindTimeout
	KindHTTPStatus
	KindInvalidJSON
	KindArrayNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindInvalidJSON:
		return "invalid_json"
	case KindArrayNotFound:
		return "array_not_found"
	default:
		return "unknown"
	}
}

// FetchError is the only error type Fetch returns.
type FetchError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	return e.Message
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Source describes one outbound request.
type Source struct {
	URL      string
	Method   string
	Auth     Auth
	Headers  map[string]string
	JSONPath string
	Timeout  time.Duration
}

// Data is the located record array, both as raw JSON text and decoded.
type Data struct {
	Raw     []byte
	Records []any
}

type Fetcher struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	userAgent      string
	defaultTimeout time.Duration
}

// NewFetcher builds a fetcher on a shared client. A nil limiter disables
// rate limiting.
func NewFetcher(httpClient *http.Client, limiter *rate.Limiter, userAgent string, defaultTimeout time.Duration) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Fetcher{
		httpClient:     httpClient,
		limiter:        limiter,
		userAgent:      userAgent,
		defaultTimeout: defaultTimeout,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, src Source) (*Data, error) {
	timeout := src.Timeout
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A caller deadline shorter than the source timeout wins, report that one.
	if deadline, ok := timeoutCtx.Deadline(); ok {
		timeout = deadline.Sub(start).Round(time.Millisecond)
	}

	body, err := f.fetchBody(timeoutCtx, src, timeout)
	if err != nil {
		return nil, err
	}

	return locateArray(body, src.JSONPath)
}

func (f *Fetcher) fetchBody(ctx context.Context, src Source, timeout time.Duration) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, classifyTransportError(err, timeout)
		}
	}

	method := strings.ToUpper(strings.TrimSpace(src.Method))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, src.URL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindRequest, Message: fmt.Sprintf("Invalid request: %v", err), Err: err}
	}

	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	src.Auth.Apply(req)
	for name, value := range src.Headers {
		req.Header[name] = []string{value}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err, timeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransportError(err, timeout)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("API returned HTTP %d: %s", resp.StatusCode, excerpt(body)),
		}
	}

	return body, nil
}

func locateArray(body []byte, jsonPath string) (*Data, error) {
	doc, err := jsondoc.Parse(body)
	if err != nil {
		if errors.Is(err, jsondoc.ErrEmptyDocument) {
			return nil, &FetchError{Kind: KindInvalidJSON, Message: "API returned an empty response", Err: err}
		}
		return nil, &FetchError{
			Kind:    KindInvalidJSON,
			Message: fmt.Sprintf("API response is not valid JSON: %s", excerpt(body)),
			Err:     err,
		}
	}

	node, found := jsondoc.Resolve(doc, jsonPath)
	records, isArray := node.([]any)
	if !found || !isArray {
		if strings.TrimSpace(jsonPath) == "" {
			return nil, &FetchError{
				Kind:    KindArrayNotFound,
				Message: "No JSON path configured; the response root must be an array",
			}
		}
		return nil, &FetchError{
			Kind:    KindArrayNotFound,
			Message: fmt.Sprintf("No array found at JSON path '%s'", jsonPath),
		}
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return nil, &FetchError{Kind: KindInvalidJSON, Message: fmt.Sprintf("Failed to re-encode records: %v", err), Err: err}
	}

	return &Data{Raw: raw, Records: records}, nil
}

func classifyTransportError(err error, timeout time.Duration) *FetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("Request timed out after %s", timeout),
			Err:     err,
		}
	}
	return &FetchError{
		Kind:    KindNetwork,
		Message: fmt.Sprintf("Network error: %v", err),
		Err:     err,
	}
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	runes := []rune(text)
	if len(runes) > maxExcerptLength {
		return string(runes[:maxExcerptLength])
	}
	return text
}
