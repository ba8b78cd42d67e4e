package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fishnet/internal/backoff"
	"fishnet/internal/metrics"
	"fishnet/internal/notation"
	"fishnet/pkg/types"
)

// SlotState is the lifecycle state of an engine slot.
type SlotState string

const (
	SlotStarting   SlotState = "starting"
	SlotIdle       SlotState = "idle"
	SlotBusy       SlotState = "busy"
	SlotRestarting SlotState = "restarting"
	SlotDead       SlotState = "dead"
)

var slotStates = []SlotState{SlotStarting, SlotIdle, SlotBusy, SlotRestarting, SlotDead}

// PoolConfig encapsulates all tunables for Pool construction.
type PoolConfig struct {
	Cores int
	// Binaries maps an engine flavor to its executable. The official flavor
	// is required; other flavors fall back to it.
	Binaries  map[notation.Flavor]string
	Spawn     SpawnFunc
	Handle    HandleOptions
	Governor  *backoff.Governor
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// Pool is the fixed set of engine slots bounded by the core budget.
type Pool struct {
	cfg   PoolConfig
	slots []*Slot
	idle  chan int
	log   zerolog.Logger
	pub   EventPublisher
	gov   *backoff.Governor

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool constructs a pool from cfg. No process is started before Start.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Cores < 1 {
		return nil, fmt.Errorf("engine pool needs at least one core, got %d", cfg.Cores)
	}
	if cfg.Binaries[notation.FlavorOfficial] == "" {
		return nil, ErrDependencyUnavailable("no engine binary configured")
	}
	if cfg.Spawn == nil {
		cfg.Spawn = ExecSpawn
	}
	if cfg.Governor == nil {
		cfg.Governor = backoff.New(backoff.Options{})
	}
	cfg.Handle = cfg.Handle.withDefaults()
	p := &Pool{
		cfg:  cfg,
		idle: make(chan int, cfg.Cores),
		log:  cfg.Logger,
		pub:  cfg.Publisher,
		gov:  cfg.Governor,
	}
	if p.pub == nil {
		p.pub = noopPublisher{}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.slots = make([]*Slot, cfg.Cores)
	for i := range p.slots {
		p.slots[i] = &Slot{index: i, pool: p, state: SlotStarting, handles: make(map[string]*Handle)}
	}
	return p, nil
}

// Cores is the number of slots.
func (p *Pool) Cores() int { return len(p.slots) }

// Start spawns the official engine in every slot. Any failure stops the
// processes already started.
func (p *Pool) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	path := p.binary(notation.FlavorOfficial)
	for _, s := range p.slots {
		g.Go(func() error {
			h, err := p.spawn(gctx, s.index, path)
			if err != nil {
				return fmt.Errorf("slot %d: %w", s.index, err)
			}
			s.mu.Lock()
			s.handles[path] = h
			s.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range p.slots {
			s.closeHandles()
		}
		return err
	}
	for _, s := range p.slots {
		s.setState(SlotIdle)
		p.idle <- s.index
	}
	p.updateGauge()
	p.log.Info().Int("cores", len(p.slots)).Str("engine", filepath.Base(path)).Msg("engines started")
	return nil
}

// Acquire blocks until an idle slot with a live engine is available.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	for {
		select {
		case i := <-p.idle:
			s := p.slots[i]
			s.mu.Lock()
			if !s.healthyLocked() {
				s.state = SlotRestarting
				s.mu.Unlock()
				p.scheduleRestart(s)
				continue
			}
			s.state = SlotBusy
			s.mu.Unlock()
			p.updateGauge()
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.ctx.Done():
			return nil, ErrPoolClosed
		}
	}
}

// Release returns s to the pool. A slot whose engine died is restarted
// asynchronously and becomes idle again once the new process is ready.
func (p *Pool) Release(s *Slot) {
	s.mu.Lock()
	if s.state != SlotBusy {
		s.mu.Unlock()
		return
	}
	s.jobID = ""
	healthy := s.healthyLocked()
	switch {
	case p.isClosed():
		s.state = SlotDead
	case healthy:
		s.state = SlotIdle
	default:
		s.state = SlotRestarting
	}
	state := s.state
	s.mu.Unlock()
	p.updateGauge()
	switch state {
	case SlotIdle:
		p.idle <- s.index
	case SlotRestarting:
		p.pub.Publish(Event{Name: "slot_dead", Slot: s.index})
		p.scheduleRestart(s)
	}
}

// Close stops every engine process. Acquire returns ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	var wg sync.WaitGroup
	for _, s := range p.slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.closeHandles()
			s.setState(SlotDead)
		}()
	}
	wg.Wait()
	p.updateGauge()
	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// binary resolves the executable for flavor, falling back to the official one.
func (p *Pool) binary(f notation.Flavor) string {
	if b := p.cfg.Binaries[f]; b != "" {
		return b
	}
	return p.cfg.Binaries[notation.FlavorOfficial]
}

func (p *Pool) spawn(ctx context.Context, slot int, path string) (*Handle, error) {
	log := p.log.With().Int("slot", slot).Str("engine", filepath.Base(path)).Logger()
	proc, err := p.cfg.Spawn(path, log)
	if err != nil {
		p.pub.Publish(Event{Name: "spawn_exit", Slot: slot, Fields: map[string]any{"path": path, "error": err.Error()}})
		return nil, err
	}
	p.pub.Publish(Event{Name: "spawn_start", Slot: slot, Fields: map[string]any{"path": path, "pid": proc.Pid()}})
	h, err := StartHandle(ctx, proc, p.cfg.Handle, log)
	if err != nil {
		p.pub.Publish(Event{Name: "spawn_exit", Slot: slot, Fields: map[string]any{"pid": proc.Pid(), "error": err.Error()}})
		return nil, err
	}
	p.pub.Publish(Event{Name: "spawn_ready", Slot: slot, Fields: map[string]any{"pid": proc.Pid(), "name": h.Name()}})
	return h, nil
}

func (p *Pool) updateGauge() {
	counts := make(map[SlotState]int, len(slotStates))
	for _, s := range p.slots {
		counts[s.State()]++
	}
	for _, st := range slotStates {
		metrics.SlotStates.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// Slot is one unit of the core budget. It is held by at most one job.
type Slot struct {
	index int
	pool  *Pool

	mu       sync.Mutex
	state    SlotState
	jobID    string
	handles  map[string]*Handle // keyed by binary path
	restarts int
}

// Index is the slot's fixed position in the pool.
func (s *Slot) Index() int { return s.index }

// State returns the current lifecycle state.
func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Assign records the job running on the slot.
func (s *Slot) Assign(jobID string) {
	s.mu.Lock()
	s.jobID = jobID
	s.mu.Unlock()
}

// Engine returns the live handle serving flavor, spawning it on first use.
func (s *Slot) Engine(ctx context.Context, f notation.Flavor) (*Handle, error) {
	path := s.pool.binary(f)
	s.mu.Lock()
	h := s.handles[path]
	s.mu.Unlock()
	if h != nil && h.Alive() {
		return h, nil
	}
	if h != nil {
		_ = h.Close()
	}
	h, err := s.pool.spawn(ctx, s.index, path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.handles[path] = h
	s.mu.Unlock()
	return h, nil
}

// EngineName is the "id name" of the engine serving flavor, or empty if it
// has not been spawned.
func (s *Slot) EngineName(f notation.Flavor) string {
	path := s.pool.binary(f)
	s.mu.Lock()
	defer s.mu.Unlock()
	if h := s.handles[path]; h != nil {
		return h.Name()
	}
	return ""
}

// Variants lists the UCI variants of the engine serving flavor.
func (s *Slot) Variants(ctx context.Context, f notation.Flavor) ([]string, error) {
	h, err := s.Engine(ctx, f)
	if err != nil {
		return nil, err
	}
	return h.Variants(), nil
}

// Search runs one analysis on the engine for flavor.
func (s *Slot) Search(ctx context.Context, f notation.Flavor, pos Position, lim types.Limits) (<-chan SearchEvent, error) {
	h, err := s.Engine(ctx, f)
	if err != nil {
		return nil, err
	}
	return h.Search(ctx, pos, lim)
}

// healthyLocked reports whether the official engine is alive. Dead handles
// of other flavors are dropped and respawned on demand.
func (s *Slot) healthyLocked() bool {
	official := s.pool.binary(notation.FlavorOfficial)
	for path, h := range s.handles {
		if path != official && !h.Alive() {
			go h.Close()
			delete(s.handles, path)
		}
	}
	h := s.handles[official]
	return h != nil && h.Alive()
}

func (s *Slot) setState(st SlotState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Slot) closeHandles() {
	s.mu.Lock()
	hs := make([]*Handle, 0, len(s.handles))
	for path, h := range s.handles {
		hs = append(hs, h)
		delete(s.handles, path)
	}
	s.mu.Unlock()
	for _, h := range hs {
		_ = h.Close()
	}
}
