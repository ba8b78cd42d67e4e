package engine

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Process is a running engine executable with line-oriented stdio.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Pid() int
	// Terminate asks the process to exit (SIGTERM on Unix).
	Terminate() error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

// SpawnFunc starts the engine binary at path. Stderr of the process goes to log.
type SpawnFunc func(path string, log zerolog.Logger) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	done   chan struct{}
	err    error
}

// ExecSpawn is the SpawnFunc used in production. An engine given by absolute
// path runs in its own directory so relative network files resolve.
func ExecSpawn(path string, log zerolog.Logger) (Process, error) {
	cmd := exec.Command(path)
	if filepath.IsAbs(path) {
		cmd.Dir = filepath.Dir(path)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// stdout is an os.Pipe owned by us so Wait does not close it while the
	// reader still drains the final lines.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = &stderrLog{log: log}
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start engine %s: %w", path, err)
	}
	_ = pw.Close()
	p := &execProcess{cmd: cmd, stdin: stdin, stdout: pr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		if p.err != nil {
			log.Debug().Err(p.err).Int("pid", cmd.Process.Pid).Msg("engine exited")
		}
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Stdin() io.Writer      { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Kill() error           { return p.cmd.Process.Kill() }

func (p *execProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

// stopProcess terminates p gracefully, then force kills it after grace.
func stopProcess(p Process, grace time.Duration) {
	select {
	case <-p.Done():
		return
	default:
	}
	_ = p.Terminate()
	select {
	case <-p.Done():
	case <-time.After(grace):
		_ = p.Kill()
		select {
		case <-p.Done():
		case <-time.After(grace):
		}
	}
}

// stderrLog forwards complete stderr lines to the debug log.
type stderrLog struct {
	log zerolog.Logger
	mu  sync.Mutex
	buf []byte
}

const maxStderrLine = 4096

func (w *stderrLog) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxStderrLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(b), nil
}

func (w *stderrLog) emit(line []byte) {
	if s := strings.TrimSpace(string(line)); s != "" {
		w.log.Debug().Str("stream", "stderr").Msg(s)
	}
}
