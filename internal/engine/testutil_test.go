package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fake engine behaviours on "go"
const (
	modeNormal   = "normal"
	modeHang     = "hang"
	modeCrash    = "crash"
	modeStopWait = "stopwait"
)

// fakeProc is an in-process UCI engine speaking over io.Pipe.
type fakeProc struct {
	pid     int
	mode    func() string
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	received []string
}

func newFakeProc(pid int, mode func() string) *fakeProc {
	p := &fakeProc{pid: pid, mode: mode, done: make(chan struct{})}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	go p.serve()
	return p
}

func (p *fakeProc) Stdin() io.Writer      { return p.stdinW }
func (p *fakeProc) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProc) Pid() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Kill() error           { p.exit(); return nil }
func (p *fakeProc) Terminate() error      { p.exit(); return nil }

func (p *fakeProc) exit() {
	p.once.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stdinR.Close()
		close(p.done)
	})
}

func (p *fakeProc) Received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func (p *fakeProc) saw(cmd string) bool {
	for _, c := range p.Received() {
		if c == cmd {
			return true
		}
	}
	return false
}

func (p *fakeProc) say(lines ...string) {
	for _, l := range lines {
		if _, err := io.WriteString(p.stdoutW, l+"\n"); err != nil {
			return
		}
	}
}

func (p *fakeProc) serve() {
	defer p.exit()
	sc := bufio.NewScanner(p.stdinR)
	searching := false
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		p.mu.Lock()
		p.received = append(p.received, cmd)
		p.mu.Unlock()
		switch {
		case cmd == "uci":
			p.say(
				"id name FakeFish 1.0",
				"id author tests",
				"option name Threads type spin default 1 min 1 max 512",
				"option name Hash type spin default 16 min 1 max 33554432",
				"option name MultiPV type spin default 1 min 1 max 500",
				"option name UCI_Chess960 type check default false",
				"option name UCI_Variant type combo default chess var chess var atomic var crazyhouse",
				"option name VariantPath type string default <empty>",
				"uciok",
			)
		case cmd == "isready":
			p.say("readyok")
		case strings.HasPrefix(cmd, "go"):
			switch p.mode() {
			case modeNormal:
				p.say(
					"info string NNUE evaluation enabled",
					"info depth 1 score cp 20 nodes 100 pv e2e4",
					"info depth 2 seldepth 3 score cp 25 nodes 300 nps 1000 time 3 pv e2e4 e7e5",
					"bestmove e2e4 ponder e7e5",
				)
			case modeCrash:
				p.say("info depth 1 score cp 20 nodes 100 pv e2e4")
				return
			case modeStopWait:
				p.say("info depth 1 score cp 20 nodes 100 pv e2e4")
				searching = true
			case modeHang:
			}
		case cmd == "stop":
			if searching {
				searching = false
				p.say("info depth 5 score cp 30 nodes 5000 pv d2d4", "bestmove d2d4")
			}
		case cmd == "quit":
			return
		}
	}
}

func fixedMode(m string) func() string { return func() string { return m } }

// fakeSpawner hands out fake processes with increasing pids.
type fakeSpawner struct {
	mode    atomic.Value
	nextPID atomic.Int64
	failPID int64

	mu    sync.Mutex
	procs []*fakeProc
}

func newFakeSpawner(mode string) *fakeSpawner {
	s := &fakeSpawner{}
	s.mode.Store(mode)
	s.nextPID.Store(100)
	return s
}

func (s *fakeSpawner) Spawn(path string, _ zerolog.Logger) (Process, error) {
	pid := s.nextPID.Add(1)
	if s.failPID != 0 && pid == s.failPID {
		return nil, fmt.Errorf("exec %s: %w", path, errors.New("no such file"))
	}
	p := newFakeProc(int(pid), func() string { return s.mode.Load().(string) })
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.mu.Unlock()
	return p, nil
}

func (s *fakeSpawner) Procs() []*fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*fakeProc(nil), s.procs...)
}

func startFakeHandle(t *testing.T, mode string, opts HandleOptions) (*Handle, *fakeProc) {
	t.Helper()
	p := newFakeProc(42, fixedMode(mode))
	h, err := StartHandle(testCtx(t), p, opts, testLogger())
	if err != nil {
		t.Fatalf("StartHandle: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h, p
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func drain(t *testing.T, ch <-chan SearchEvent) []SearchEvent {
	t.Helper()
	var out []SearchEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("search stream did not close, got %d events", len(out))
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
