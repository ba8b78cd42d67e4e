package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"fishnet/pkg/types"
)

// Defaults applied when corresponding HandleOptions fields are unset.
const (
	defaultLiveness    = 30 * time.Second
	defaultStopTimeout = 2 * time.Second
)

// HandleOptions are applied once per process start.
type HandleOptions struct {
	Threads      int
	HashMB       int
	VariantRules string
	// Liveness bounds the silence between two lines while the engine works.
	Liveness    time.Duration
	StopTimeout time.Duration
}

func (o HandleOptions) withDefaults() HandleOptions {
	if o.Threads <= 0 {
		o.Threads = 1
	}
	if o.Liveness <= 0 {
		o.Liveness = defaultLiveness
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	return o
}

// Position is what a single Search analyses.
type Position struct {
	// Variant is the UCI_Variant value; "chess" for standard chess.
	Variant  string
	Chess960 bool
	// Fen is the root position; empty means the start position.
	Fen   string
	Moves []string
}

// SearchEvent is one element of the stream returned by Search. The final
// event carries either BestMove (possibly empty for "bestmove (none)") with
// Done set, or Err.
type SearchEvent struct {
	Info     *Info
	BestMove string
	Ponder   string
	Done     bool
	Err      error
}

// Handle owns one engine process. A handle runs at most one search at a time.
type Handle struct {
	proc    Process
	opts    HandleOptions
	log     zerolog.Logger
	lines   chan string
	gone    chan struct{}
	name    string
	options map[string]option

	wmu      sync.Mutex
	busy     atomic.Bool
	dead     atomic.Bool
	variant  string
	chess960 bool
	multiPV  int

	closeOnce sync.Once
}

// StartHandle performs the UCI handshake on proc and applies the process-wide
// options. On failure proc is stopped.
func StartHandle(ctx context.Context, proc Process, opts HandleOptions, log zerolog.Logger) (*Handle, error) {
	h := &Handle{
		proc:    proc,
		opts:    opts.withDefaults(),
		log:     log.With().Int("pid", proc.Pid()).Logger(),
		lines:   make(chan string, 64),
		gone:    make(chan struct{}),
		options: make(map[string]option),
		variant: "chess",
		multiPV: 1,
	}
	go h.readLoop(proc.Stdout())
	if err := h.handshake(ctx); err != nil {
		h.dead.Store(true)
		close(h.gone)
		stopProcess(proc, h.opts.StopTimeout)
		return nil, fmt.Errorf("engine handshake: %w", err)
	}
	h.log.Debug().Str("engine", h.name).Int("variants", len(h.Variants())).Msg("engine ready")
	return h, nil
}

func (h *Handle) handshake(ctx context.Context) error {
	if err := h.readOptions(ctx); err != nil {
		return err
	}
	cmds := []string{}
	if h.hasOption("Threads") {
		cmds = append(cmds, setOption("Threads", strconv.Itoa(h.opts.Threads)))
	}
	if h.hasOption("Hash") && h.opts.HashMB > 0 {
		cmds = append(cmds, setOption("Hash", strconv.Itoa(h.opts.HashMB)))
	}
	rules := h.opts.VariantRules != "" && h.hasOption("VariantPath")
	if rules {
		cmds = append(cmds, setOption("VariantPath", h.opts.VariantRules))
	} else if h.opts.VariantRules != "" {
		h.log.Warn().Str("rules", h.opts.VariantRules).Msg("engine has no VariantPath option, ignoring variant rules")
	}
	if err := h.send(cmds...); err != nil {
		return err
	}
	if rules {
		// loading a rules file extends the UCI_Variant list
		if err := h.readOptions(ctx); err != nil {
			return err
		}
	}
	return h.sync(ctx)
}

// readOptions sends uci and records id and option lines up to uciok.
func (h *Handle) readOptions(ctx context.Context) error {
	if err := h.send("uci"); err != nil {
		return err
	}
	for {
		line, err := h.readLine(ctx, h.opts.Liveness)
		if err != nil {
			return err
		}
		switch {
		case line == "uciok":
			return nil
		case strings.HasPrefix(line, "id name "):
			h.name = strings.TrimPrefix(line, "id name ")
		case strings.HasPrefix(line, "option "):
			if o, ok := parseOption(line); ok {
				h.options[strings.ToLower(o.Name)] = o
			}
		}
	}
}

// sync sends isready and discards output up to readyok.
func (h *Handle) sync(ctx context.Context) error {
	if err := h.send("isready"); err != nil {
		return err
	}
	for {
		line, err := h.readLine(ctx, h.opts.Liveness)
		if err != nil {
			return err
		}
		if line == "readyok" {
			return nil
		}
	}
}

// Name is the "id name" reported by the engine.
func (h *Handle) Name() string { return h.name }

// Pid is the process id of the engine.
func (h *Handle) Pid() int { return h.proc.Pid() }

// Variants lists the UCI_Variant values the engine accepts.
func (h *Handle) Variants() []string {
	return h.options["uci_variant"].Vars
}

// Supports reports whether the engine can analyse the UCI variant v.
func (h *Handle) Supports(v string) bool {
	if v == "" || v == "chess" {
		return true
	}
	return lo.Contains(h.Variants(), v)
}

func (h *Handle) hasOption(name string) bool {
	_, ok := h.options[strings.ToLower(name)]
	return ok
}

// Alive reports whether the process is running and has not been declared dead.
func (h *Handle) Alive() bool {
	if h.dead.Load() {
		return false
	}
	select {
	case <-h.proc.Done():
		return false
	default:
		return true
	}
}

// Search starts analysing pos within lim. The returned channel must be
// drained until closed. Cancelling ctx sends stop; the stream then still
// ends with the engine's bestmove unless it fails to answer in time.
func (h *Handle) Search(ctx context.Context, pos Position, lim types.Limits) (<-chan SearchEvent, error) {
	if !h.Alive() {
		return nil, deadError{reason: "search on dead engine"}
	}
	if !h.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	if err := h.prepare(ctx, pos, lim); err != nil {
		if IsEngineDead(err) {
			h.kill()
		}
		h.busy.Store(false)
		return nil, err
	}
	if err := h.send(FormatPosition(pos.Fen, pos.Moves), FormatGo(lim)); err != nil {
		h.kill()
		h.busy.Store(false)
		return nil, err
	}
	out := make(chan SearchEvent, 16)
	go h.run(ctx, out)
	return out, nil
}

func (h *Handle) prepare(ctx context.Context, pos Position, lim types.Limits) error {
	variant := pos.Variant
	if variant == "" {
		variant = "chess"
	}
	if !h.Supports(variant) {
		return unsupportedVariantError{variant: variant}
	}
	var cmds []string
	changed := false
	if variant != h.variant && h.hasOption("UCI_Variant") {
		cmds = append(cmds, setOption("UCI_Variant", variant))
		changed = true
	}
	if pos.Chess960 != h.chess960 && h.hasOption("UCI_Chess960") {
		cmds = append(cmds, setOption("UCI_Chess960", strconv.FormatBool(pos.Chess960)))
		changed = true
	}
	multiPV := max(lim.MultiPV, 1)
	if multiPV != h.multiPV && h.hasOption("MultiPV") {
		cmds = append(cmds, setOption("MultiPV", strconv.Itoa(multiPV)))
		h.multiPV = multiPV
	}
	if changed {
		cmds = append(cmds, "ucinewgame")
	}
	if err := h.send(cmds...); err != nil {
		return err
	}
	h.variant, h.chess960 = variant, pos.Chess960
	return h.sync(ctx)
}

func (h *Handle) run(ctx context.Context, out chan<- SearchEvent) {
	defer close(out)
	defer h.busy.Store(false)
	done := ctx.Done()
	timeout := h.opts.Liveness
	for {
		t := time.NewTimer(timeout)
		select {
		case <-done:
			t.Stop()
			done = nil
			timeout = h.opts.StopTimeout
			if err := h.send("stop"); err != nil {
				h.kill()
				out <- SearchEvent{Err: err}
				return
			}
		case line, ok := <-h.lines:
			t.Stop()
			if !ok {
				h.dead.Store(true)
				out <- SearchEvent{Err: deadError{reason: "process exited during search"}}
				return
			}
			if strings.HasPrefix(line, "info ") {
				if in, ok := ParseInfo(line); ok {
					out <- SearchEvent{Info: &in}
				}
			} else if strings.HasPrefix(line, "bestmove") {
				best, ponder := ParseBestMove(line)
				out <- SearchEvent{BestMove: best, Ponder: ponder, Done: true}
				return
			}
		case <-t.C:
			h.kill()
			h.log.Warn().Dur("timeout", timeout).Msg("engine unresponsive, killed")
			out <- SearchEvent{Err: deadError{reason: "no output within " + timeout.String()}}
			return
		}
	}
}

func (h *Handle) readLoop(r io.Reader) {
	defer close(h.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case h.lines <- line:
		case <-h.gone:
			return
		}
	}
	if c, ok := r.(io.Closer); ok {
		_ = c.Close()
	}
}

// readLine waits up to timeout for the next line. Silence kills the process.
func (h *Handle) readLine(ctx context.Context, timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line, ok := <-h.lines:
		if !ok {
			h.dead.Store(true)
			return "", deadError{reason: "process exited"}
		}
		return line, nil
	case <-t.C:
		h.kill()
		return "", deadError{reason: "no output within " + timeout.String()}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *Handle) send(cmds ...string) error {
	if len(cmds) == 0 {
		return nil
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	for _, c := range cmds {
		h.log.Trace().Str("cmd", c).Msg("engine <")
		if _, err := io.WriteString(h.proc.Stdin(), c+"\n"); err != nil {
			h.dead.Store(true)
			return deadError{reason: "write " + strings.Fields(c)[0] + ": " + err.Error()}
		}
	}
	return nil
}

func (h *Handle) kill() {
	h.dead.Store(true)
	_ = h.proc.Kill()
}

// Close asks the engine to quit, then terminates it after the stop timeout.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		alive := h.Alive()
		h.dead.Store(true)
		if alive {
			_ = h.send("quit")
		}
		select {
		case <-h.proc.Done():
		case <-time.After(h.opts.StopTimeout):
			stopProcess(h.proc, h.opts.StopTimeout)
		}
		close(h.gone)
	})
	return nil
}
