// Package sink delivers job outcomes to the coordination server, retrying
// transient failures with exponential backoff.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"fishnet/internal/api"
	"fishnet/internal/metrics"
	"fishnet/pkg/types"
)

var (
	// ErrRejected means the server refused the submission (4xx). It is not retried.
	ErrRejected = errors.New("submission rejected")
	// ErrExhausted means every attempt failed transiently.
	ErrExhausted = errors.New("submission attempts exhausted")
)

// Defaults applied when corresponding Options fields are unset.
const (
	defaultAttempts       = 5
	defaultDelay          = 500 * time.Millisecond
	defaultMaxDelay       = 30 * time.Second
	defaultAttemptTimeout = 30 * time.Second
)

// Report is the terminal outcome of one job.
type Report struct {
	JobID    string
	Class    types.JobClass
	Outcome  types.Outcome
	Analysis []types.PositionAnalysis
	Error    string
	Engine   *types.EngineInfo
}

// Submitter performs a single submission round trip; *api.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, jobID string, req types.SubmitRequest) error
}

// Options tunes retries.
type Options struct {
	Attempts       uint
	Delay          time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Logger         zerolog.Logger
}

// Sink submits reports. It is safe for concurrent use.
type Sink struct {
	sub  Submitter
	opts Options
	log  zerolog.Logger
}

func New(sub Submitter, opts Options) *Sink {
	if opts.Attempts == 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	return &Sink{sub: sub, opts: opts, log: opts.Logger}
}

// Submit delivers r. It returns nil on acknowledgement, an error wrapping
// ErrRejected when the server refuses it, and one wrapping ErrExhausted
// when attempts run out or ctx ends first.
func (s *Sink) Submit(ctx context.Context, r Report) error {
	req := types.SubmitRequest{
		Outcome:  r.Outcome,
		Analysis: r.Analysis,
		Error:    r.Error,
		Engine:   r.Engine,
	}
	log := s.log.With().Str("job", r.JobID).Str("outcome", string(r.Outcome)).Logger()
	rejected := false
	err := retry.Do(
		func() error {
			actx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
			defer cancel()
			err := s.sub.Submit(actx, r.JobID, req)
			if err == nil {
				return nil
			}
			if !api.IsTransient(err) || ctx.Err() != nil {
				rejected = ctx.Err() == nil
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.opts.Attempts),
		retry.Delay(s.opts.Delay),
		retry.MaxDelay(s.opts.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			metrics.SubmitAttempts.WithLabelValues("retry").Inc()
			log.Warn().Err(err).Uint("attempt", n+1).Msg("submission failed, retrying")
		}),
	)
	switch {
	case err == nil:
		metrics.SubmitAttempts.WithLabelValues("ok").Inc()
		log.Debug().Msg("submitted")
		return nil
	case rejected:
		metrics.SubmitAttempts.WithLabelValues("rejected").Inc()
		log.Error().Err(err).Msg("submission rejected")
		return fmt.Errorf("%w: %v", ErrRejected, err)
	default:
		metrics.SubmitAttempts.WithLabelValues("exhausted").Inc()
		log.Error().Err(err).Msg("submission gave up")
		return fmt.Errorf("%w: %v", ErrExhausted, err)
	}
}
