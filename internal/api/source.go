package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fishnet/internal/metrics"
	"fishnet/pkg/types"
)

// Kind enumerates the outcomes of one job request.
type Kind int

const (
	Assigned Kind = iota
	NoWork
	Throttled
	AuthFailed
	TransientError
)

func (k Kind) String() string {
	switch k {
	case Assigned:
		return "assigned"
	case NoWork:
		return "no_work"
	case Throttled:
		return "throttled"
	case AuthFailed:
		return "auth_failed"
	default:
		return "transient_error"
	}
}

// AcquireResult is the classified reply of RequestJob.
type AcquireResult struct {
	Kind Kind
	Job  *types.Job
	// RetryAfter is the server hint for Throttled, zero when absent.
	RetryAfter time.Duration
	Err        error
}

// WorkerState is what the worker advertises when asking for work.
type WorkerState struct {
	CoresAvailable int
	Backlog        types.BacklogState
}

// Source turns acquire round trips into AcquireResult values.
type Source struct {
	client *Client
}

func NewSource(c *Client) *Source { return &Source{client: c} }

// RequestJob performs one round trip. It never returns an error: failures
// are folded into AuthFailed or TransientError.
func (s *Source) RequestJob(ctx context.Context, st WorkerState) AcquireResult {
	res := s.requestJob(ctx, st)
	metrics.AcquireTotal.WithLabelValues(res.Kind.String()).Inc()
	return res
}

func (s *Source) requestJob(ctx context.Context, st WorkerState) AcquireResult {
	job, err := s.client.Acquire(ctx, types.AcquireRequest{
		CoresAvailable: st.CoresAvailable,
		Backlog:        st.Backlog,
	})
	switch {
	case err == nil && job != nil:
		return AcquireResult{Kind: Assigned, Job: job}
	case err == nil:
		return AcquireResult{Kind: NoWork}
	case IsAuth(err):
		return AcquireResult{Kind: AuthFailed, Err: err}
	}
	if se, ok := err.(*StatusError); ok && se.Code == http.StatusTooManyRequests {
		return AcquireResult{Kind: Throttled, RetryAfter: se.RetryAfter, Err: err}
	}
	return AcquireResult{Kind: TransientError, Err: err}
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Unparseable or
// past values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
