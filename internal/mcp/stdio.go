package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// maxLineBytes caps a single stdout line from the subprocess.
const maxLineBytes = 4 << 20

// StdioTransport runs an MCP server as a child process and exchanges
// newline-delimited JSON-RPC over its stdin/stdout. Frames are written
// one at a time under the mutex; a dedicated goroutine pumps stdout
// lines into a channel so a blocked read can be abandoned when the
// call context ends.
type StdioTransport struct {
	command string
	args    []string
	env     []string
	logger  *slog.Logger

	mu    sync.Mutex
	proc  *exec.Cmd
	in    io.WriteCloser
	lines chan []byte // closed by the reader when stdout ends
}

// NewStdioTransport prepares a stdio transport. The child process is
// started on the first Call or Post.
func NewStdioTransport(command string, args, env []string, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{command: command, args: args, env: env, logger: logger}
}

// ensureRunning starts the child process if needed. The process
// outlives individual call contexts; only Close or an I/O failure
// stops it. Caller holds t.mu.
func (t *StdioTransport) ensureRunning() error {
	if t.proc != nil && t.proc.ProcessState == nil {
		return nil
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Env = append(os.Environ(), t.env...)

	in, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	out, err := cmd.StdoutPipe()
	if err != nil {
		in.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	diag, err := cmd.StderrPipe()
	if err != nil {
		in.Close()
		out.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		in.Close()
		out.Close()
		diag.Close()
		return fmt.Errorf("start %s: %w", t.command, err)
	}

	t.proc = cmd
	t.in = in
	t.lines = make(chan []byte, 4)

	go t.pumpOutput(out, t.lines)
	go t.logStderr(diag)

	t.logger.Info("MCP subprocess running", "command", t.command, "pid", cmd.Process.Pid)
	return nil
}

// pumpOutput delivers stdout lines to ch until the pipe closes, then
// closes ch so readers see the process is gone.
func (t *StdioTransport) pumpOutput(r io.Reader, ch chan<- []byte) {
	defer close(ch)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := make([]byte, len(sc.Bytes()))
		copy(line, sc.Bytes())
		ch <- line
	}
	if err := sc.Err(); err != nil {
		t.logger.Debug("subprocess stdout closed", "error", err)
	}
}

// logStderr surfaces the child's stderr, which is outside the protocol.
func (t *StdioTransport) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", sc.Text())
	}
}

// Call writes a request frame and waits for the line answering it.
// The child may interleave notifications and log noise on stdout;
// anything that does not answer the frame's ID is skipped.
func (t *StdioTransport) Call(ctx context.Context, f Frame) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeFrame(f); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			// The reader is blocked on the pipe; killing the child is
			// the only way to unblock it.
			t.teardown()
			return nil, ctx.Err()
		case line, ok := <-t.lines:
			if !ok {
				t.teardown()
				return nil, fmt.Errorf("subprocess %s closed its stdout", t.command)
			}
			resp, err := parseResponse(line)
			if err != nil {
				t.logger.Debug("skipping non-JSON stdout line", "line", string(line))
				continue
			}
			if !resp.answers(f.ID) {
				continue
			}
			return resp, nil
		}
	}
}

// Post writes a notification frame. Nothing is read back.
func (t *StdioTransport) Post(_ context.Context, f Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeFrame(f)
}

// writeFrame starts the child if needed and writes one frame plus the
// newline delimiter. Caller holds t.mu.
func (t *StdioTransport) writeFrame(f Frame) error {
	if err := t.ensureRunning(); err != nil {
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if _, err := t.in.Write(append(data, '\n')); err != nil {
		t.teardown()
		return fmt.Errorf("write to subprocess stdin: %w", err)
	}
	return nil
}

// Close stops the child process gracefully: stdin is closed first so a
// well-behaved server exits on its own, with a kill after five seconds
// for one that does not.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc == nil || t.proc.Process == nil {
		return nil
	}

	t.logger.Info("stopping MCP subprocess", "pid", t.proc.Process.Pid)
	t.in.Close()
	drainLines(t.lines)

	exited := make(chan error, 1)
	go func() { exited <- t.proc.Wait() }()

	var err error
	select {
	case err = <-exited:
	case <-time.After(5 * time.Second):
		t.logger.Warn("subprocess ignored stdin close, killing", "pid", t.proc.Process.Pid)
		_ = t.proc.Process.Kill()
		<-exited
	}

	t.proc, t.in, t.lines = nil, nil, nil
	return err
}

// teardown force-kills the child after a failure so the next call
// starts fresh. Caller holds t.mu.
func (t *StdioTransport) teardown() {
	if t.in != nil {
		t.in.Close()
	}
	drainLines(t.lines)
	if t.proc != nil && t.proc.Process != nil {
		_ = t.proc.Process.Kill()
		_ = t.proc.Wait()
	}
	t.proc, t.in, t.lines = nil, nil, nil
}

// drainLines keeps receiving until the reader closes the channel, so a
// reader blocked on a full channel can observe the closed pipe and
// exit.
func drainLines(ch <-chan []byte) {
	if ch == nil {
		return
	}
	go func() {
		for range ch {
		}
	}()
}
