// Package downstream pushes NDJSON bulk payloads to the sync endpoint of the
// target collection service.
package downstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/api-comb/app/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	ContentTypeNDJSON = "application/x-ndjson"
	DefaultTimeout    = 60 * time.Second

	breakerName        = "downstream-sync"
	tripAfterFailures  = 5
	maxResponseBodyLen = 1 << 20
)

type SyncRequest struct {
	CollectionID string
	Payload      string
	JobToken     string
}

// SyncResponse is returned for every answer the endpoint gives; Success is
// false for non-2xx statuses.
type SyncResponse struct {
	Success    bool
	StatusCode int
	Body       string
}

// serverError marks 5xx answers so that they count against the breaker.
type serverError struct {
	resp *SyncResponse
}

func (e *serverError) Error() string {
	return fmt.Sprintf("downstream returned HTTP %d", e.resp.StatusCode)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	cb         *gobreaker.CircuitBreaker[*SyncResponse]
}

func NewClient(httpClient *http.Client, baseURL, apiKey string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*SyncResponse](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfterFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		cb:         cb,
	}
}

// Sync posts the payload to {base}/collections/{collection}/bulk?job={token}.
// Transport failures and an open breaker are returned as errors; any HTTP
// answer is returned as a response.
func (c *Client) Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	if req.CollectionID == "" {
		return nil, errors.New("collection ID is required")
	}

	resp, err := c.cb.Execute(func() (*SyncResponse, error) {
		resp, err := c.post(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})

	var srvErr *serverError
	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
		return resp, nil
	case errors.As(err, &srvErr):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return srvErr.resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		slog.Warn("Downstream sync rejected by circuit breaker", "collection", req.CollectionID, "error", err)
		return nil, fmt.Errorf("downstream unavailable: %w", err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return nil, err
	}
}

func (c *Client) post(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/collections/%s/bulk", c.baseURL, url.PathEscape(req.CollectionID))
	if req.JobToken != "" {
		endpoint += "?job=" + url.QueryEscape(req.JobToken)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentTypeNDJSON)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach downstream: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodyLen))
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}

	return &SyncResponse{
		Success:    httpResp.StatusCode >= 200 && httpResp.StatusCode < 300,
		StatusCode: httpResp.StatusCode,
		Body:       string(body),
	}, nil
}

func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
