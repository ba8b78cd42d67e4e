package engine

import (
	"context"
	"testing"
	"time"

	"fishnet/pkg/types"
)

func TestHandshakeAppliesProcessOptions(t *testing.T) {
	h, p := startFakeHandle(t, modeNormal, HandleOptions{HashMB: 32, VariantRules: "/etc/fishnet/variants.ini"})
	if h.Name() != "FakeFish 1.0" {
		t.Fatalf("unexpected name %q", h.Name())
	}
	for _, want := range []string{
		"setoption name Threads value 1",
		"setoption name Hash value 32",
		"setoption name VariantPath value /etc/fishnet/variants.ini",
		"isready",
	} {
		if !p.saw(want) {
			t.Fatalf("expected %q in %v", want, p.Received())
		}
	}
	if !h.Supports("atomic") || !h.Supports("chess") || h.Supports("xiangqi") {
		t.Fatalf("unexpected variant support: %v", h.Variants())
	}
}

func TestSearchStreamsInfoThenBestMove(t *testing.T) {
	h, p := startFakeHandle(t, modeNormal, HandleOptions{})
	ch, err := h.Search(testCtx(t), Position{Moves: []string{"e2e4"}}, types.Limits{Depth: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	evs := drain(t, ch)
	if len(evs) != 3 {
		t.Fatalf("expected 2 infos and a bestmove, got %+v", evs)
	}
	last := evs[len(evs)-1]
	if !last.Done || last.BestMove != "e2e4" || last.Ponder != "e7e5" {
		t.Fatalf("unexpected final event: %+v", last)
	}
	if evs[1].Info == nil || evs[1].Info.Depth != 2 || *evs[1].Info.Score.Cp != 25 {
		t.Fatalf("unexpected info: %+v", evs[1].Info)
	}
	if !p.saw("position startpos moves e2e4") || !p.saw("go depth 2") {
		t.Fatalf("unexpected commands: %v", p.Received())
	}
	if p.saw("ucinewgame") {
		t.Fatalf("standard chess must not reset the game on first search")
	}
	// handle is reusable once the stream closed
	ch, err = h.Search(testCtx(t), Position{}, types.Limits{Nodes: 10})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	drain(t, ch)
}

func TestSearchSwitchesVariant(t *testing.T) {
	h, p := startFakeHandle(t, modeNormal, HandleOptions{})
	ch, err := h.Search(testCtx(t), Position{Variant: "atomic"}, types.Limits{Depth: 1, MultiPV: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	drain(t, ch)
	for _, want := range []string{"setoption name UCI_Variant value atomic", "setoption name MultiPV value 3", "ucinewgame"} {
		if !p.saw(want) {
			t.Fatalf("expected %q in %v", want, p.Received())
		}
	}
}

func TestSearchUnsupportedVariant(t *testing.T) {
	h, _ := startFakeHandle(t, modeNormal, HandleOptions{})
	if _, err := h.Search(testCtx(t), Position{Variant: "xiangqi"}, types.Limits{Depth: 1}); !IsUnsupportedVariant(err) {
		t.Fatalf("expected unsupported variant, got %v", err)
	}
	if !h.Alive() {
		t.Fatalf("unsupported variant must not kill the engine")
	}
}

func TestSearchLivenessTimeoutKillsEngine(t *testing.T) {
	h, _ := startFakeHandle(t, modeHang, HandleOptions{Liveness: 100 * time.Millisecond})
	ch, err := h.Search(testCtx(t), Position{}, types.Limits{Depth: 20})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	evs := drain(t, ch)
	if len(evs) != 1 || !IsEngineDead(evs[0].Err) {
		t.Fatalf("expected a single dead-engine event, got %+v", evs)
	}
	if h.Alive() {
		t.Fatalf("expected handle to be dead")
	}
	if _, err := h.Search(testCtx(t), Position{}, types.Limits{Depth: 1}); !IsEngineDead(err) {
		t.Fatalf("expected search on dead engine to fail, got %v", err)
	}
}

func TestSearchProcessExitMidSearch(t *testing.T) {
	h, _ := startFakeHandle(t, modeCrash, HandleOptions{})
	ch, err := h.Search(testCtx(t), Position{}, types.Limits{Depth: 20})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	evs := drain(t, ch)
	last := evs[len(evs)-1]
	if !IsEngineDead(last.Err) {
		t.Fatalf("expected dead engine at end of stream, got %+v", last)
	}
}

func TestSearchCancelSendsStop(t *testing.T) {
	h, p := startFakeHandle(t, modeStopWait, HandleOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.Search(ctx, Position{}, types.Limits{Depth: 99})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	first := <-ch
	if first.Info == nil {
		t.Fatalf("expected info first, got %+v", first)
	}
	cancel()
	evs := drain(t, ch)
	last := evs[len(evs)-1]
	if !last.Done || last.BestMove != "d2d4" {
		t.Fatalf("expected bestmove after stop, got %+v", last)
	}
	if !p.saw("stop") || !h.Alive() {
		t.Fatalf("expected stop to be sent and engine to survive")
	}
}

func TestSearchCancelWithoutAnswerKills(t *testing.T) {
	h, _ := startFakeHandle(t, modeHang, HandleOptions{StopTimeout: 100 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.Search(ctx, Position{}, types.Limits{Depth: 99})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	cancel()
	evs := drain(t, ch)
	if len(evs) != 1 || !IsEngineDead(evs[0].Err) {
		t.Fatalf("expected kill after stop timeout, got %+v", evs)
	}
}

func TestSearchRejectsConcurrentUse(t *testing.T) {
	h, _ := startFakeHandle(t, modeStopWait, HandleOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := h.Search(ctx, Position{}, types.Limits{Depth: 99})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if _, err := h.Search(testCtx(t), Position{}, types.Limits{Depth: 1}); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	cancel()
	drain(t, ch)
}

func TestCloseSendsQuit(t *testing.T) {
	p := newFakeProc(7, fixedMode(modeNormal))
	h, err := StartHandle(testCtx(t), p, HandleOptions{}, testLogger())
	if err != nil {
		t.Fatalf("StartHandle: %v", err)
	}
	_ = h.Close()
	if !p.saw("quit") {
		t.Fatalf("expected quit, got %v", p.Received())
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("expected process to exit")
	}
	if h.Alive() {
		t.Fatalf("closed handle reported alive")
	}
}

func TestHandshakeOnEarlyExitStopsProcess(t *testing.T) {
	p := newFakeProc(8, fixedMode(modeNormal))
	// a closed stdout looks like an engine that died during startup
	_ = p.stdoutW.Close()
	if _, err := StartHandle(testCtx(t), p, HandleOptions{Liveness: 100 * time.Millisecond}, testLogger()); !IsEngineDead(err) {
		t.Fatalf("expected dead engine error, got %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected process to be stopped")
	}
}
