package engine

import (
	"sort"

	"fishnet/pkg/types"
)

// Snapshot returns a read-only view of every slot for /status.
func (p *Pool) Snapshot() []types.SlotStatus {
	out := make([]types.SlotStatus, 0, len(p.slots))
	for _, s := range p.slots {
		s.mu.Lock()
		st := types.SlotStatus{
			Index:    s.index,
			State:    string(s.state),
			JobID:    s.jobID,
			Restarts: s.restarts,
		}
		for _, h := range s.handles {
			st.PIDs = append(st.PIDs, h.Pid())
		}
		s.mu.Unlock()
		sort.Ints(st.PIDs)
		out = append(out, st)
	}
	return out
}

// Ready reports whether at least one slot can take work.
func (p *Pool) Ready() bool {
	for _, s := range p.slots {
		if st := s.State(); st == SlotIdle || st == SlotBusy {
			return true
		}
	}
	return false
}
