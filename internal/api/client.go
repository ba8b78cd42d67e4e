// Package api speaks the coordination protocol: acquiring jobs and
// submitting their outcomes over JSON/HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"fishnet/pkg/types"
)

// SessionHeader carries the per-process session id on every request.
const SessionHeader = "X-Fishnet-Session"

// Client handles HTTP communication with the coordination server.
type Client struct {
	endpoint   string
	key        string
	session    string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a client for endpoint. A nil httpClient uses a client
// without global timeout; every call is bounded by its context.
func NewClient(endpoint, key, version string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	ua := "fishnet"
	if version != "" {
		ua += "/" + version
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		key:        key,
		session:    uuid.NewString(),
		userAgent:  ua,
		httpClient: httpClient,
	}
}

// Session is the id sent in SessionHeader.
func (c *Client) Session() string { return c.session }

// Key is the credential the client authenticates with.
func (c *Client) Key() string { return c.key }

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err may succeed when retried: transport
// failures, 429 and 5xx replies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// IsAuth reports whether err is a rejected credential.
func IsAuth(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// Acquire posts an acquire request. It returns the assigned job, nil when
// the server has no work (204), or an error. Non-2xx replies are *StatusError.
func (c *Client) Acquire(ctx context.Context, req types.AcquireRequest) (*types.Job, error) {
	req.Key = c.key
	if req.Version == 0 {
		req.Version = types.ProtocolVersion
	}
	resp, err := c.post(ctx, "/acquire", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var ar types.AcquireResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if ar.Job == nil {
		return nil, nil
	}
	return ar.Job, nil
}

// Submit posts the outcome of job id.
func (c *Client) Submit(ctx context.Context, jobID string, req types.SubmitRequest) error {
	req.Key = c.key
	resp, err := c.post(ctx, "/submit/"+url.PathEscape(jobID), req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(SessionHeader, c.session)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Code:       resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}
