package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fishnet/internal/api"
	"fishnet/internal/backoff"
	"fishnet/internal/engine"
	"fishnet/internal/notation"
	"fishnet/internal/sink"
	"fishnet/pkg/types"
)

// searchFunc plays an engine for one position. out is closed by the caller.
type searchFunc func(ctx context.Context, pos engine.Position, out chan<- engine.SearchEvent)

func cp(v int) *types.Score { return &types.Score{Cp: &v} }

func quickSearch(_ context.Context, _ engine.Position, out chan<- engine.SearchEvent) {
	out <- engine.SearchEvent{Info: &engine.Info{Depth: 12, MultiPV: 1, Score: cp(20), Nodes: 1000, PV: []string{"e2e4", "e7e5"}}}
	out <- engine.SearchEvent{BestMove: "e2e4", Done: true}
}

// slowSearch finishes after d, or answers a stop as the engine would.
func slowSearch(d time.Duration) searchFunc {
	return func(ctx context.Context, pos engine.Position, out chan<- engine.SearchEvent) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		quickSearch(ctx, pos, out)
	}
}

type fakeSlot struct {
	index int
	pool  *fakePool
	held  atomic.Bool
}

func (s *fakeSlot) Index() int                          { return s.index }
func (s *fakeSlot) Assign(jobID string) {
	s.pool.mu.Lock()
	s.pool.assigned = append(s.pool.assigned, jobID)
	s.pool.mu.Unlock()
}

func (s *fakeSlot) EngineName(f notation.Flavor) string { return "Fake " + string(f) }

func (s *fakeSlot) Variants(context.Context, notation.Flavor) ([]string, error) {
	return s.pool.variants, nil
}

func (s *fakeSlot) Search(ctx context.Context, _ notation.Flavor, pos engine.Position, _ types.Limits) (<-chan engine.SearchEvent, error) {
	s.pool.searches.Add(1)
	s.pool.mu.Lock()
	s.pool.positions = append(s.pool.positions, pos)
	s.pool.mu.Unlock()
	out := make(chan engine.SearchEvent, 4)
	go func() {
		defer close(out)
		s.pool.search(ctx, pos, out)
	}()
	return out, nil
}

// fakePool is a pool of in-memory engines that tracks concurrency.
type fakePool struct {
	cores    int
	idle     chan *fakeSlot
	search   searchFunc
	variants []string

	searches atomic.Int64
	busy     atomic.Int64
	maxBusy  atomic.Int64

	mu        sync.Mutex
	positions []engine.Position
	assigned  []string
}

func newFakePool(cores int, search searchFunc) *fakePool {
	if search == nil {
		search = quickSearch
	}
	p := &fakePool{cores: cores, idle: make(chan *fakeSlot, cores), search: search}
	for i := 0; i < cores; i++ {
		p.idle <- &fakeSlot{index: i, pool: p}
	}
	return p
}

func (p *fakePool) Acquire(ctx context.Context) (Slot, error) {
	select {
	case s := <-p.idle:
		s.held.Store(true)
		n := p.busy.Add(1)
		for {
			m := p.maxBusy.Load()
			if n <= m || p.maxBusy.CompareAndSwap(m, n) {
				break
			}
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakePool) Release(s Slot) {
	fs := s.(*fakeSlot)
	if fs.held.CompareAndSwap(true, false) {
		p.busy.Add(-1)
		p.idle <- fs
	}
}

func (p *fakePool) Cores() int                   { return p.cores }
func (p *fakePool) Snapshot() []types.SlotStatus { return nil }
func (p *fakePool) Ready() bool                  { return true }

func (p *fakePool) Positions() []engine.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Position(nil), p.positions...)
}

// Assigned lists job ids in the order slots were assigned.
func (p *fakePool) Assigned() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.assigned...)
}

// coordinator is an httptest coordination server handing out a fixed queue.
type coordinator struct {
	mu       sync.Mutex
	jobs     []*types.Job
	script   []int // statuses answered before any job
	submitFn http.HandlerFunc
	acquires []time.Time
	requests []types.AcquireRequest
	submits  map[string][]types.SubmitRequest
	order    []string
}

func newCoordinator(t *testing.T, jobs ...*types.Job) (*coordinator, *httptest.Server) {
	t.Helper()
	c := &coordinator{jobs: jobs, submits: map[string][]types.SubmitRequest{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fishnet/acquire", func(w http.ResponseWriter, r *http.Request) {
		var req types.AcquireRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		c.mu.Lock()
		c.acquires = append(c.acquires, time.Now())
		c.requests = append(c.requests, req)
		if len(c.script) > 0 {
			code := c.script[0]
			c.script = c.script[1:]
			c.mu.Unlock()
			if code == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "1")
			}
			w.WriteHeader(code)
			return
		}
		if len(c.jobs) == 0 {
			c.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		job := c.jobs[0]
		c.jobs = c.jobs[1:]
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.AcquireResponse{Job: job})
	})
	mux.HandleFunc("POST /fishnet/submit/{id}", func(w http.ResponseWriter, r *http.Request) {
		var req types.SubmitRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		c.mu.Lock()
		fn := c.submitFn
		if fn == nil {
			c.submits[r.PathValue("id")] = append(c.submits[r.PathValue("id")], req)
			c.order = append(c.order, r.PathValue("id"))
		}
		c.mu.Unlock()
		if fn != nil {
			fn(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *coordinator) Submitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, reqs := range c.submits {
		n += len(reqs)
	}
	return n
}

func (c *coordinator) Reports(id string) []types.SubmitRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.SubmitRequest(nil), c.submits[id]...)
}

// Order lists submitted job ids in arrival order.
func (c *coordinator) Order() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

func (c *coordinator) Requests() []types.AcquireRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.AcquireRequest(nil), c.requests...)
}

func (c *coordinator) Acquires() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.acquires...)
}

func fastPolicies() map[backoff.Cause]backoff.Policy {
	return map[backoff.Cause]backoff.Policy{
		backoff.EmptyPoll:         {Min: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		backoff.Throttled:         {Min: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		backoff.SubmissionFailure: {Min: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		backoff.NetworkError:      {Min: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	}
}

func newTestDispatcher(t *testing.T, srv *httptest.Server, pool Pool, gopts backoff.Options, opts Options) *Dispatcher {
	t.Helper()
	if gopts.Policies == nil {
		gopts.Policies = fastPolicies()
	}
	client := api.NewClient(srv.URL+"/fishnet", "secret", "test", nil)
	results := sink.New(client, sink.Options{Attempts: 3, Delay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Logger: zerolog.Nop()})
	return New(pool, api.NewSource(client), results, backoff.New(gopts), opts)
}

// runUntil runs d until cond holds, then shuts it down and returns Run's error.
func runUntil(t *testing.T, d *Dispatcher, cond func() bool) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after shutdown")
	}
	return nil
}

func newJob(id string, moves ...string) *types.Job {
	return &types.Job{ID: id, Class: types.ClassUser, Moves: moves, Limits: types.Limits{Depth: 12}}
}
