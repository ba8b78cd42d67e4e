package sink

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fishnet/internal/api"
	"fishnet/pkg/types"
)

// scriptedSubmitter returns errs in order, then nil.
type scriptedSubmitter struct {
	errs  []error
	calls atomic.Int32
	last  types.SubmitRequest
}

func (s *scriptedSubmitter) Submit(_ context.Context, _ string, req types.SubmitRequest) error {
	n := int(s.calls.Add(1)) - 1
	s.last = req
	if n < len(s.errs) {
		return s.errs[n]
	}
	return nil
}

func fastSink(sub Submitter, attempts uint) *Sink {
	return New(sub, Options{Attempts: attempts, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Logger: zerolog.Nop()})
}

func report() Report {
	return Report{JobID: "j1", Class: types.ClassUser, Outcome: types.OutcomeCompleted, Engine: &types.EngineInfo{Name: "sf", Flavor: "official"}}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{
		&api.StatusError{Code: http.StatusBadGateway},
		errors.New("connection reset"),
	}}
	require.NoError(t, fastSink(sub, 5).Submit(context.Background(), report()))
	assert.Equal(t, int32(3), sub.calls.Load())
	assert.Equal(t, types.OutcomeCompleted, sub.last.Outcome)
	assert.Equal(t, "sf", sub.last.Engine.Name)
}

func TestSubmitDoesNotRetryClientErrors(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{&api.StatusError{Code: http.StatusConflict, Body: "job already finished"}}}
	err := fastSink(sub, 5).Submit(context.Background(), report())
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "job already finished")
	assert.Equal(t, int32(1), sub.calls.Load())
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	e := &api.StatusError{Code: http.StatusServiceUnavailable}
	sub := &scriptedSubmitter{errs: []error{e, e, e, e}}
	err := fastSink(sub, 3).Submit(context.Background(), report())
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, int32(3), sub.calls.Load())
}

func TestSubmitThrottledIsRetried(t *testing.T) {
	sub := &scriptedSubmitter{errs: []error{&api.StatusError{Code: http.StatusTooManyRequests}}}
	require.NoError(t, fastSink(sub, 2).Submit(context.Background(), report()))
	assert.Equal(t, int32(2), sub.calls.Load())
}

func TestSubmitStopsOnCancelledContext(t *testing.T) {
	e := &api.StatusError{Code: http.StatusInternalServerError}
	sub := &scriptedSubmitter{errs: []error{e, e, e, e, e, e}}
	s := New(sub, Options{Attempts: 6, Delay: time.Second, MaxDelay: time.Second, Logger: zerolog.Nop()})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := s.Submit(ctx, report())
	require.ErrorIs(t, err, ErrExhausted)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(1), sub.calls.Load())
}
