// Package logger builds the worker's zerolog logger and renders the
// interactive progress line.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options selects verbosity and destination.
type Options struct {
	// Verbose 0 logs info and above, 1 adds debug, 2 or more adds trace.
	Verbose int
	// Stderr sends log output to stderr instead of stdout.
	Stderr bool
	// JSON forces JSON output even on a terminal.
	JSON bool
}

// Logger is a zerolog.Logger that shares its output with a progress line.
type Logger struct {
	zerolog.Logger
	verbose  int
	tty      bool
	progress *lineState
}

// lineState tracks an unterminated progress line on the progress stream.
type lineState struct {
	mu   sync.Mutex
	out  io.Writer
	open int
}

// feed terminates an open progress line. Callers hold mu.
func (s *lineState) feed() {
	if s.open > 0 {
		s.open = 0
		_, _ = io.WriteString(s.out, "\n")
	}
}

// guardWriter terminates the progress line before every log write.
type guardWriter struct {
	state *lineState
	out   io.Writer
}

func (g guardWriter) Write(p []byte) (int, error) {
	g.state.mu.Lock()
	defer g.state.mu.Unlock()
	g.state.feed()
	return g.out.Write(p)
}

// New builds a Logger on stdout (or stderr) with colour output on a terminal.
func New(opts Options) *Logger {
	out := io.Writer(os.Stdout)
	if opts.Stderr {
		out = os.Stderr
	}
	return build(opts, out, os.Stdout, isTerminal(os.Stdout))
}

// Nop returns a Logger that discards all output.
func Nop() *Logger {
	return build(Options{}, io.Discard, io.Discard, false)
}

func build(opts Options, out, progress io.Writer, tty bool) *Logger {
	state := &lineState{out: progress}
	w := io.Writer(guardWriter{state: state, out: out})
	if tty && !opts.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, FormatLevel: formatLevel}
	}
	zl := zerolog.New(w).With().Timestamp().Logger().Level(level(opts.Verbose))
	return &Logger{Logger: zl, verbose: opts.Verbose, tty: tty, progress: state}
}

func level(verbose int) zerolog.Level {
	switch {
	case verbose <= 0:
		return zerolog.InfoLevel
	case verbose == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// formatLevel renders fishnet's single-letter prefixes.
func formatLevel(i any) string {
	s, _ := i.(string)
	switch s {
	case "trace", "debug":
		return "D:"
	case "warn":
		return "W:"
	case "error", "fatal", "panic":
		return "E:"
	default:
		return "><>"
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Headline logs a section title.
func (l *Logger) Headline(title string) {
	l.Info().Msg("### " + title)
}

// Progress renders the queue status line. On a terminal the line is
// rewritten in place; otherwise it is logged at debug level.
func (l *Logger) Progress(bar QueueStatusBar, at ProgressAt) {
	line := bar.Line(at)
	if !l.tty {
		l.Debug().Msg(line)
		return
	}
	s := l.progress
	s.mu.Lock()
	defer s.mu.Unlock()
	pad := max(s.open-len(line), 0)
	_, _ = io.WriteString(s.out, "\r"+line+strings.Repeat(" ", pad))
	s.open = len(line)
}

// ClearProgress terminates an open progress line.
func (l *Logger) ClearProgress() {
	l.progress.mu.Lock()
	l.progress.feed()
	l.progress.mu.Unlock()
}
