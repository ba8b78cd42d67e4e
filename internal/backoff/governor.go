// Package backoff decides how long the worker waits after unproductive
// network interactions and which job classes it currently asks for.
package backoff

import (
	"sync"
	"time"
)

// Cause identifies why a delay is requested.
type Cause int

const (
	EmptyPoll Cause = iota
	Throttled
	SubmissionFailure
	EngineRestart
	NetworkError
	numCauses
)

func (c Cause) String() string {
	switch c {
	case EmptyPoll:
		return "empty_poll"
	case Throttled:
		return "throttled"
	case SubmissionFailure:
		return "submission_failure"
	case EngineRestart:
		return "engine_restart"
	case NetworkError:
		return "network_error"
	}
	return "unknown"
}

// Event is the input of NextDelay. Hint carries the server's Retry-After for
// Throttled events.
type Event struct {
	Cause Cause
	Hint  time.Duration
}

// Throttle builds a Throttled event with the server-provided hint.
func Throttle(hint time.Duration) Event { return Event{Cause: Throttled, Hint: hint} }

// Policy bounds the delays of one cause.
type Policy struct {
	Min time.Duration
	Max time.Duration
}

// DefaultPolicies are used for causes missing from Options.Policies.
var DefaultPolicies = map[Cause]Policy{
	EmptyPoll:         {Min: time.Second, Max: 30 * time.Second},
	Throttled:         {Min: time.Second, Max: 2 * time.Minute},
	SubmissionFailure: {Min: 2 * time.Second, Max: time.Minute},
	EngineRestart:     {Min: 500 * time.Millisecond, Max: 30 * time.Second},
	NetworkError:      {Min: time.Second, Max: time.Minute},
}

// Options configures a Governor.
type Options struct {
	Policies map[Cause]Policy
	User     Threshold
	System   Threshold
}

// Governor is safe for concurrent use.
type Governor struct {
	mu       sync.Mutex
	policies [numCauses]Policy
	streak   [numCauses]int
	user     Threshold
	system   Threshold
}

// New constructs a Governor, filling missing policies from DefaultPolicies.
func New(opts Options) *Governor {
	g := &Governor{user: opts.User, system: opts.System}
	for c := Cause(0); c < numCauses; c++ {
		p, ok := opts.Policies[c]
		if !ok {
			p = DefaultPolicies[c]
		}
		if p.Min <= 0 {
			p.Min = time.Millisecond
		}
		if p.Max < p.Min {
			p.Max = p.Min
		}
		g.policies[c] = p
	}
	return g
}

// NextDelay returns the wait for ev and advances the streak of its cause.
// Consecutive events of one cause never shrink the delay until a reset.
func (g *Governor) NextDelay(ev Event) time.Duration {
	if ev.Cause < 0 || ev.Cause >= numCauses {
		ev.Cause = NetworkError
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.policies[ev.Cause]
	n := g.streak[ev.Cause]
	g.streak[ev.Cause]++
	d := p.Min
	for i := 0; i < n && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	if ev.Cause == Throttled && ev.Hint > d {
		return ev.Hint
	}
	return d
}

// Reset returns every cause except EngineRestart to its minimum delay. Called
// after a successful assignment or submission.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for c := Cause(0); c < numCauses; c++ {
		if c != EngineRestart {
			g.streak[c] = 0
		}
	}
}

// ResetCause returns one cause to its minimum delay.
func (g *Governor) ResetCause(c Cause) {
	if c < 0 || c >= numCauses {
		return
	}
	g.mu.Lock()
	g.streak[c] = 0
	g.mu.Unlock()
}
