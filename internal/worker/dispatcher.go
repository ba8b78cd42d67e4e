// Package worker runs the dispatch loop: it matches idle engine slots with
// jobs from the coordination server and reports every accepted job exactly
// once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fishnet/internal/api"
	"fishnet/internal/backoff"
	"fishnet/internal/engine"
	"fishnet/internal/logger"
	"fishnet/internal/metrics"
	"fishnet/internal/notation"
	"fishnet/internal/sink"
	"fishnet/pkg/types"
)

// Defaults applied when corresponding Options fields are unset.
const (
	defaultGrace         = 10 * time.Second
	defaultSubmitTimeout = 2 * time.Minute
)

// Slot is an engine slot held by one job; *engine.Slot implements it.
type Slot interface {
	Index() int
	Assign(jobID string)
	EngineName(f notation.Flavor) string
	Variants(ctx context.Context, f notation.Flavor) ([]string, error)
	Search(ctx context.Context, f notation.Flavor, pos engine.Position, lim types.Limits) (<-chan engine.SearchEvent, error)
}

// Pool hands out slots bounded by the core budget.
type Pool interface {
	Acquire(ctx context.Context) (Slot, error)
	Release(s Slot)
	Cores() int
	Snapshot() []types.SlotStatus
	Ready() bool
}

// JobSource is *api.Source.
type JobSource interface {
	RequestJob(ctx context.Context, st api.WorkerState) api.AcquireResult
}

// ResultSink is *sink.Sink.
type ResultSink interface {
	Submit(ctx context.Context, r sink.Report) error
}

// EnginePool adapts an engine pool to Pool.
func EnginePool(p *engine.Pool) Pool { return enginePool{p} }

type enginePool struct{ *engine.Pool }

func (p enginePool) Acquire(ctx context.Context) (Slot, error) {
	s, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p enginePool) Release(s Slot) {
	if es, ok := s.(*engine.Slot); ok {
		p.Pool.Release(es)
	}
}

// Options tunes the dispatcher.
type Options struct {
	// Grace is how long running jobs may finish after shutdown starts.
	Grace time.Duration
	// SubmitTimeout bounds the delivery of one report, retries included.
	SubmitTimeout time.Duration
	// MultiVariant enables variants advertised by the multi-variant engine.
	MultiVariant bool
	Logger       *logger.Logger
}

// Dispatcher owns the acquire loop and the goroutines of running jobs.
type Dispatcher struct {
	pool   Pool
	source JobSource
	sink   ResultSink
	gov    *backoff.Governor
	state  *State
	opts   Options
	log    *logger.Logger

	completed chan struct{}
	pause     chan time.Duration
	wg        sync.WaitGroup
}

func New(pool Pool, source JobSource, results ResultSink, gov *backoff.Governor, opts Options) *Dispatcher {
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if gov == nil {
		gov = backoff.New(backoff.Options{})
	}
	return &Dispatcher{
		pool:      pool,
		source:    source,
		sink:      results,
		gov:       gov,
		state:     NewState(),
		opts:      opts,
		log:       opts.Logger,
		completed: make(chan struct{}, 1),
		pause:     make(chan time.Duration, 1),
	}
}

// State exposes the job bookkeeping.
func (d *Dispatcher) State() *State { return d.state }

// Run polls for work until ctx is cancelled, then gives running jobs the
// grace period before abandoning them. It returns nil on shutdown and
// ErrAuthenticationFailed when the server rejects the key.
func (d *Dispatcher) Run(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	err := d.loop(ctx, jobCtx)
	d.state.SetDraining()
	d.drain(cancelJobs)
	return err
}

func (d *Dispatcher) loop(ctx, jobCtx context.Context) error {
	for {
		select {
		case p := <-d.pause:
			if !d.sleep(ctx, backoff.SubmissionFailure, p) {
				return nil
			}
		default:
		}
		if ctx.Err() != nil {
			return nil
		}
		counters := d.state.Counters()
		if d.gov.Posture(counters) == backoff.PollNone {
			select {
			case <-d.completed:
			case <-ctx.Done():
				return nil
			}
			continue
		}
		slot, err := d.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("acquire engine slot: %w", err)
		}
		counters = d.state.Counters()
		res := d.source.RequestJob(ctx, api.WorkerState{
			CoresAvailable: d.pool.Cores() - int(counters.User+counters.System),
			Backlog:        d.gov.BacklogState(counters),
		})
		if res.Kind == api.Assigned {
			d.gov.Reset()
			d.start(jobCtx, slot, res.Job)
			continue
		}
		d.pool.Release(slot)
		var ev backoff.Event
		switch res.Kind {
		case api.NoWork:
			ev = backoff.Event{Cause: backoff.EmptyPoll}
		case api.Throttled:
			d.log.Warn().Dur("retry_after", res.RetryAfter).Msg("throttled by server")
			ev = backoff.Throttle(res.RetryAfter)
		case api.AuthFailed:
			d.log.Error().Err(res.Err).Msg("server rejected the key")
			return ErrAuthenticationFailed
		default:
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn().Err(res.Err).Msg("acquire failed")
			ev = backoff.Event{Cause: backoff.NetworkError}
		}
		if !d.sleep(ctx, ev.Cause, d.gov.NextDelay(ev)) {
			return nil
		}
	}
}

// sleep waits for delay and reports false if ctx ended first.
func (d *Dispatcher) sleep(ctx context.Context, cause backoff.Cause, delay time.Duration) bool {
	metrics.BackoffSeconds.WithLabelValues(cause.String()).Add(delay.Seconds())
	d.log.Debug().Str("cause", cause.String()).Dur("delay", delay).Msg("backing off")
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// start takes ownership of slot for job. Invalid jobs are reported failed
// without touching an engine, except those without an id, which are dropped.
func (d *Dispatcher) start(ctx context.Context, slot Slot, job *types.Job) {
	if strings.TrimSpace(job.ID) == "" {
		d.pool.Release(slot)
		d.log.Error().Str("class", string(job.Class)).Msg("job without id cannot be reported, dropping it")
		return
	}
	log := d.log.With().Str("job", job.ID).Str("class", string(job.Class)).Logger()
	if !d.state.Accept(job.ID, job.Class) {
		d.pool.Release(slot)
		log.Warn().Msg("job already in progress, ignoring duplicate assignment")
		return
	}
	began := time.Now()
	v, err := d.validate(ctx, slot, job)
	if err != nil {
		d.pool.Release(slot)
		log.Warn().Err(err).Msg("job rejected")
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.complete(log, job, sink.Report{JobID: job.ID, Class: job.Class, Outcome: types.OutcomeFailed, Error: err.Error()}, began)
		}()
		return
	}
	slot.Assign(job.ID)
	d.state.Assign(job.ID)
	d.updateInFlight()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, log, slot, job, v, began)
	}()
}

func (d *Dispatcher) run(ctx context.Context, log zerolog.Logger, slot Slot, job *types.Job, v notation.Variant, began time.Time) {
	d.state.Run(job.ID)
	log.Debug().Int("slot", slot.Index()).Str("variant", v.String()).Int("positions", len(job.Moves)+1).Msg("analysing")
	analysis, err := d.analyse(ctx, slot, job, v)
	r := sink.Report{
		JobID:  job.ID,
		Class:  job.Class,
		Engine: &types.EngineInfo{Name: slot.EngineName(v.Flavor()), Flavor: string(v.Flavor())},
	}
	d.state.Released(job.ID)
	d.pool.Release(slot)
	d.updateInFlight()
	switch {
	case err != nil && ctx.Err() != nil:
		r.Outcome = types.OutcomeAbandoned
		r.Error = "worker shutting down"
	case err != nil:
		r.Outcome = types.OutcomeFailed
		r.Error = err.Error()
		log.Warn().Err(err).Msg("analysis failed")
	default:
		r.Outcome = types.OutcomeCompleted
		r.Analysis = analysis
	}
	d.complete(log, job, r, began)
}

// complete submits r on a context of its own so reports still go out while
// shutting down, then records the local outcome.
func (d *Dispatcher) complete(log zerolog.Logger, job *types.Job, r sink.Report, began time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.SubmitTimeout)
	defer cancel()
	outcome := r.Outcome
	switch err := d.sink.Submit(ctx, r); {
	case err == nil:
		d.gov.Reset()
	case errors.Is(err, sink.ErrExhausted):
		outcome = types.OutcomeFailed
		log.Error().Err(err).Msg("could not deliver result")
		d.requestPause(d.gov.NextDelay(backoff.Event{Cause: backoff.SubmissionFailure}))
	default:
		outcome = types.OutcomeFailed
		log.Error().Err(err).Msg("result not accepted")
	}
	if !d.state.Finish(r.JobID, outcome) {
		return
	}
	metrics.JobsTotal.WithLabelValues(string(r.Class), string(outcome)).Inc()
	metrics.JobDuration.WithLabelValues(string(r.Class)).Observe(time.Since(began).Seconds())
	log.Debug().Str("outcome", string(outcome)).Dur("took", time.Since(began)).Msg("job finished")
	d.progress(job, -1)
	select {
	case d.completed <- struct{}{}:
	default:
	}
}

// requestPause delays the next poll; the longest pending pause wins.
func (d *Dispatcher) requestPause(delay time.Duration) {
	for {
		select {
		case d.pause <- delay:
			return
		case p := <-d.pause:
			delay = max(delay, p)
		}
	}
}

func (d *Dispatcher) updateInFlight() {
	c := d.state.Counters()
	metrics.InFlight.WithLabelValues(string(types.ClassUser)).Set(float64(c.User))
	metrics.InFlight.WithLabelValues(string(types.ClassSystem)).Set(float64(c.System))
}

func (d *Dispatcher) drain(cancelJobs context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	if n := d.state.Active(); n > 0 {
		d.log.Info().Int("jobs", n).Dur("grace", d.opts.Grace).Msg("waiting for running jobs")
	}
	t := time.NewTimer(d.opts.Grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		d.log.Warn().Int("jobs", d.state.Active()).Msg("grace period over, abandoning jobs")
		cancelJobs()
		<-done
	}
	d.log.ClearProgress()
}

// Status combines job bookkeeping, posture and slots for the status server.
func (d *Dispatcher) Status() types.StatusResponse {
	st := d.state.Snapshot()
	st.Cores = d.pool.Cores()
	st.PollMode = d.gov.Posture(d.state.Counters()).String()
	st.Slots = d.pool.Snapshot()
	return st
}

// Ready reports whether the worker takes new jobs.
func (d *Dispatcher) Ready() bool {
	return !d.state.Draining() && d.pool.Ready()
}
