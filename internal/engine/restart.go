package engine

import (
	"time"

	"fishnet/internal/backoff"
	"fishnet/internal/metrics"
	"fishnet/internal/notation"
)

func (p *Pool) scheduleRestart(s *Slot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()
	go p.restart(s)
}

// restart replaces the processes of s and pushes it back to idle. Spawn
// failures are retried with the governor's EngineRestart delay until the
// pool closes.
func (p *Pool) restart(s *Slot) {
	defer p.wg.Done()
	s.closeHandles()
	p.updateGauge()
	metrics.EngineRestarts.Inc()
	path := p.binary(notation.FlavorOfficial)
	for attempt := 1; ; attempt++ {
		delay := p.gov.NextDelay(backoff.Event{Cause: backoff.EngineRestart})
		p.log.Warn().Int("slot", s.index).Int("attempt", attempt).Dur("delay", delay).Msg("restarting engine")
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-p.ctx.Done():
			t.Stop()
			return
		}
		h, err := p.spawn(p.ctx, s.index, path)
		if err != nil {
			p.log.Error().Err(err).Int("slot", s.index).Msg("engine restart failed")
			continue
		}
		s.mu.Lock()
		if p.isClosed() {
			s.mu.Unlock()
			_ = h.Close()
			return
		}
		s.handles[path] = h
		s.state = SlotIdle
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()
		p.gov.ResetCause(backoff.EngineRestart)
		p.updateGauge()
		p.pub.Publish(Event{Name: "slot_restarted", Slot: s.index, Fields: map[string]any{"pid": h.Pid(), "restarts": restarts}})
		p.idle <- s.index
		return
	}
}
