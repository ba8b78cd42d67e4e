package backoff

import (
	"time"

	"fishnet/pkg/types"
)

// Threshold is the backlog limit of one job class. A class whose in-flight
// count reached Size is held (Size 0 never holds). Wait is forwarded to the
// server as the minimum queue age of jobs this worker takes.
type Threshold struct {
	Wait time.Duration
	Size int
}

func (t Threshold) holds(inflight int64) bool {
	return t.Size > 0 && inflight >= int64(t.Size)
}

// Mode is the polling posture derived from the two class thresholds.
type Mode int

const (
	PollAll Mode = iota
	PollUserOnly
	PollSystemOnly
	PollNone
)

func (m Mode) String() string {
	switch m {
	case PollAll:
		return "all"
	case PollUserOnly:
		return "user_only"
	case PollSystemOnly:
		return "system_only"
	case PollNone:
		return "none"
	}
	return "unknown"
}

// Accepts reports whether jobs of class c may be requested in mode m.
func (m Mode) Accepts(c types.JobClass) bool {
	switch m {
	case PollAll:
		return true
	case PollUserOnly:
		return c == types.ClassUser
	case PollSystemOnly:
		return c == types.ClassSystem
	}
	return false
}

// Counters are the in-flight job counts per class.
type Counters struct {
	User   int64
	System int64
}

// Posture holds a class once its threshold is reached, so neither class can
// take every slot while the other has capacity reserved.
func (g *Governor) Posture(c Counters) Mode {
	userHeld := g.user.holds(c.User)
	systemHeld := g.system.holds(c.System)
	switch {
	case userHeld && systemHeld:
		return PollNone
	case userHeld:
		return PollSystemOnly
	case systemHeld:
		return PollUserOnly
	}
	return PollAll
}

// BacklogState encodes the posture for an acquire request.
func (g *Governor) BacklogState(c Counters) types.BacklogState {
	m := g.Posture(c)
	return types.BacklogState{
		User: types.ClassBacklog{
			Accept:         m.Accepts(types.ClassUser),
			MinWaitSeconds: int64(g.user.Wait / time.Second),
		},
		System: types.ClassBacklog{
			Accept:         m.Accepts(types.ClassSystem),
			MinWaitSeconds: int64(g.system.Wait / time.Second),
		},
	}
}
