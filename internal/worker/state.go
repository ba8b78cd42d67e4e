package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"fishnet/internal/backoff"
	"fishnet/pkg/types"
)

// Phase is the non-terminal lifecycle position of an accepted job.
type Phase string

const (
	PhaseReceived  Phase = "received"
	PhaseAssigned  Phase = "assigned"
	PhaseRunning   Phase = "running"
	PhaseReporting Phase = "reporting"
)

type entry struct {
	class types.JobClass
	phase Phase
}

// State tracks accepted jobs until they reach a terminal outcome. Counters
// are read without the lock by the dispatch loop and the status server.
type State struct {
	started time.Time

	mu   sync.Mutex
	jobs map[string]*entry

	queued    atomic.Int64
	user      atomic.Int64
	system    atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	abandoned atomic.Uint64
	draining  atomic.Bool
}

func NewState() *State {
	return &State{started: time.Now(), jobs: make(map[string]*entry)}
}

// Accept records a received job. It returns false if a job with the same id
// is still in progress.
func (s *State) Accept(id string, class types.JobClass) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return false
	}
	s.jobs[id] = &entry{class: class, phase: PhaseReceived}
	s.queued.Add(1)
	return true
}

// Assign moves a received job onto a slot.
func (s *State) Assign(id string) { s.move(id, PhaseAssigned) }

// Run marks an assigned job as analysing.
func (s *State) Run(id string) { s.move(id, PhaseRunning) }

// Released marks a job whose slot was returned while its report is pending.
func (s *State) Released(id string) { s.move(id, PhaseReporting) }

func (s *State) move(id string, to Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return
	}
	s.leave(e)
	e.phase = to
	switch to {
	case PhaseReceived:
		s.queued.Add(1)
	case PhaseAssigned, PhaseRunning:
		s.counter(e.class).Add(1)
	}
}

// leave undoes the counter contribution of e's current phase. Callers hold mu.
func (s *State) leave(e *entry) {
	switch e.phase {
	case PhaseReceived:
		s.queued.Add(-1)
	case PhaseAssigned, PhaseRunning:
		s.counter(e.class).Add(-1)
	}
}

func (s *State) counter(c types.JobClass) *atomic.Int64 {
	if c == types.ClassSystem {
		return &s.system
	}
	return &s.user
}

// Finish records the terminal outcome of a job. Finishing an unknown or
// already finished id is a no-op and returns false.
func (s *State) Finish(id string, o types.Outcome) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if ok {
		s.leave(e)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	switch o {
	case types.OutcomeCompleted:
		s.completed.Add(1)
	case types.OutcomeAbandoned:
		s.abandoned.Add(1)
	default:
		s.failed.Add(1)
	}
	return true
}

// Counters returns the in-flight counts the backlog posture is derived from.
func (s *State) Counters() backoff.Counters {
	return backoff.Counters{User: s.user.Load(), System: s.system.Load()}
}

// InFlight is the number of jobs holding a slot.
func (s *State) InFlight() int64 { return s.user.Load() + s.system.Load() }

// Queued is the number of accepted jobs not yet on a slot.
func (s *State) Queued() int64 { return s.queued.Load() }

// Active is the number of accepted jobs without a terminal outcome.
func (s *State) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *State) SetDraining()   { s.draining.Store(true) }
func (s *State) Draining() bool { return s.draining.Load() }

// Snapshot fills the job related fields of a status response.
func (s *State) Snapshot() types.StatusResponse {
	return types.StatusResponse{
		InFlightUser:   s.user.Load(),
		InFlightSystem: s.system.Load(),
		Queued:         s.queued.Load(),
		Completed:      s.completed.Load(),
		Failed:         s.failed.Load(),
		Abandoned:      s.abandoned.Load(),
		UptimeSeconds:  int64(time.Since(s.started) / time.Second),
		Draining:       s.draining.Load(),
	}
}
