package backoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fishnet/pkg/types"
)

func TestEmptyPollDelaysAreMonotonicUpToCap(t *testing.T) {
	g := New(Options{Policies: map[Cause]Policy{EmptyPoll: {Min: 100 * time.Millisecond, Max: time.Second}}})
	var prev time.Duration
	var got []time.Duration
	for i := 0; i < 10; i++ {
		d := g.NextDelay(Event{Cause: EmptyPoll})
		require.GreaterOrEqual(t, d, prev, "delay shrank at step %d", i)
		require.LessOrEqual(t, d, time.Second)
		prev = d
		got = append(got, d)
	}
	assert.Equal(t, 100*time.Millisecond, got[0])
	assert.Equal(t, 200*time.Millisecond, got[1])
	assert.Equal(t, 800*time.Millisecond, got[3])
	assert.Equal(t, time.Second, got[9])
}

func TestResetReturnsToMinimum(t *testing.T) {
	g := New(Options{Policies: map[Cause]Policy{EmptyPoll: {Min: 50 * time.Millisecond, Max: time.Second}}})
	for i := 0; i < 5; i++ {
		g.NextDelay(Event{Cause: EmptyPoll})
	}
	g.Reset()
	assert.Equal(t, 50*time.Millisecond, g.NextDelay(Event{Cause: EmptyPoll}))
}

func TestCausesKeepIndependentStreaks(t *testing.T) {
	g := New(Options{Policies: map[Cause]Policy{
		EmptyPoll:    {Min: 10 * time.Millisecond, Max: time.Second},
		NetworkError: {Min: 30 * time.Millisecond, Max: time.Second},
	}})
	g.NextDelay(Event{Cause: EmptyPoll})
	g.NextDelay(Event{Cause: EmptyPoll})
	assert.Equal(t, 30*time.Millisecond, g.NextDelay(Event{Cause: NetworkError}))
	assert.Equal(t, 40*time.Millisecond, g.NextDelay(Event{Cause: EmptyPoll}))
}

func TestThrottleHonoursHint(t *testing.T) {
	g := New(Options{})
	assert.Equal(t, 5*time.Second, g.NextDelay(Throttle(5*time.Second)))
	// Without a hint the doubling streak continues from where it was.
	assert.Equal(t, 2*time.Second, g.NextDelay(Throttle(0)))
	assert.Equal(t, 5*time.Second, g.NextDelay(Throttle(5*time.Second)))
}

func TestEngineRestartSurvivesGlobalReset(t *testing.T) {
	g := New(Options{Policies: map[Cause]Policy{EngineRestart: {Min: 10 * time.Millisecond, Max: time.Second}}})
	g.NextDelay(Event{Cause: EngineRestart})
	g.Reset()
	assert.Equal(t, 20*time.Millisecond, g.NextDelay(Event{Cause: EngineRestart}))
	g.ResetCause(EngineRestart)
	assert.Equal(t, 10*time.Millisecond, g.NextDelay(Event{Cause: EngineRestart}))
}

func TestNextDelayConcurrentUse(t *testing.T) {
	g := New(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.NextDelay(Event{Cause: EmptyPoll})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, DefaultPolicies[EmptyPoll].Max, g.NextDelay(Event{Cause: EmptyPoll}))
}

func TestPosture(t *testing.T) {
	g := New(Options{User: Threshold{Size: 2}, System: Threshold{Size: 1, Wait: 90 * time.Second}})
	cases := []struct {
		c    Counters
		want Mode
	}{
		{Counters{}, PollAll},
		{Counters{System: 1}, PollUserOnly},
		{Counters{User: 2}, PollSystemOnly},
		{Counters{User: 3, System: 1}, PollNone},
		{Counters{User: 1}, PollAll},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, g.Posture(tc.c), "counters %+v", tc.c)
	}

	st := g.BacklogState(Counters{System: 1})
	assert.True(t, st.User.Accept)
	assert.False(t, st.System.Accept)
	assert.Equal(t, int64(90), st.System.MinWaitSeconds)
}

func TestUnlimitedThresholdNeverHolds(t *testing.T) {
	g := New(Options{})
	assert.Equal(t, PollAll, g.Posture(Counters{User: 100, System: 100}))
	assert.True(t, PollAll.Accepts(types.ClassSystem))
	assert.False(t, PollNone.Accepts(types.ClassUser))
}
