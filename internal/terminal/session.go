package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	readChunkSize   = 4096
	readIdleBackoff = 10 * time.Millisecond
	infoReplayBytes = 4096
)

var stopNudge = []byte("\r\n")

// stopWriteGrace bounds how long Stop waits for the writer to flush the final
// nudge before the shell is killed.
const stopWriteGrace = 100 * time.Millisecond

// Session is one shell running inside a pseudo-terminal. It owns exactly two
// goroutines while its process is present: a reader copying terminal output
// into a bounded channel and a writer copying queued input into the terminal.
type Session struct {
	ident   atomic.Pointer[sessionIdentity]
	created time.Time

	mu           sync.Mutex
	lastActivity time.Time
	rows, cols   uint16
	pid          int
	opened       bool
	closedSent   bool
	proc         Process
	child        Child
	output       chan []byte
	buffer       *OutputBuffer
	replay       []byte

	// inMu guards input against a send racing with close.
	inMu  sync.RWMutex
	input chan []byte

	exiting    atomic.Bool
	stopping   chan struct{}
	stopOnce   sync.Once
	readerDone chan struct{}
	writerDone chan struct{}

	limits     Limits
	reaper     *Reaper
	baseLogger *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

// sessionIdentity is swapped as a whole when a reconnect remaps the session
// onto another terminal id.
type sessionIdentity struct {
	id     int32
	title  string
	logger *slog.Logger
}

func newIdentity(id int32, base *slog.Logger) *sessionIdentity {
	return &sessionIdentity{
		id:     id,
		title:  fmt.Sprintf("Terminal %d", id),
		logger: base.With("terminal", id),
	}
}

type sessionDeps struct {
	limits  Limits
	reaper  *Reaper
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

func newSession(id int32, rows, cols uint16, buffer *OutputBuffer, deps sessionDeps) *Session {
	if buffer == nil {
		buffer = NewOutputBuffer(deps.limits.MaxBufferBytes, deps.limits.MaxBufferLines)
	}
	now := deps.now()
	s := &Session{
		created:      now,
		lastActivity: now,
		rows:         rows,
		cols:         cols,
		buffer:       buffer,
		stopping:     make(chan struct{}),
		readerDone:   make(chan struct{}),
		writerDone:   make(chan struct{}),
		limits:       deps.limits,
		reaper:       deps.reaper,
		baseLogger:   deps.logger,
		metrics:      deps.metrics,
		now:          deps.now,
	}
	s.ident.Store(newIdentity(id, deps.logger))
	return s
}

// open spawns the shell and starts the reader and writer. On error nothing is
// left running.
func (s *Session) open(ctx context.Context, spawner Spawner, user *UserContext) error {
	if spawner == nil {
		return ErrNoSpawner
	}
	command, args, env := DefaultShell()
	s.mu.Lock()
	req := SpawnRequest{
		TerminalID: s.ID(),
		Command:    command,
		Args:       args,
		Env:        env,
		Rows:       s.rows,
		Cols:       s.cols,
		User:       user,
	}
	s.mu.Unlock()

	proc, err := spawner.Spawn(ctx, req)
	if err != nil {
		s.metrics.spawnFailed()
		return fmt.Errorf("spawn %s: %w", command, err)
	}

	capacity := s.limits.ChannelCapacity
	input := make(chan []byte, capacity)
	output := make(chan []byte, capacity)

	s.mu.Lock()
	s.proc = proc
	s.child = proc
	s.pid = proc.Pid()
	s.output = output
	s.mu.Unlock()
	s.inMu.Lock()
	s.input = input
	s.inMu.Unlock()

	s.metrics.sessionStarted()
	go s.writeLoop(proc, input)
	go s.readLoop(proc, output)
	s.log().Info("terminal started", "pid", s.pid, "shell", command)
	return nil
}

func (s *Session) writeLoop(w io.Writer, input <-chan []byte) {
	defer close(s.writerDone)
	if _, err := w.Write([]byte("\r")); err != nil {
		s.log().Debug("prime terminal", "err", err)
	}
	for chunk := range input {
		if _, err := w.Write(chunk); err != nil {
			if !s.exiting.Load() {
				s.log().Warn("terminal write failed", "err", err)
			}
			return
		}
	}
}

func (s *Session) readLoop(r io.Reader, output chan<- []byte) {
	defer close(s.readerDone)
	buf := make([]byte, readChunkSize)
	for !s.exiting.Load() {
		n, err := r.Read(buf)
		if n > 0 && !s.exiting.Load() {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case output <- chunk:
			default:
				s.metrics.chunkDropped()
				s.log().Debug("output channel full, dropping chunk", "bytes", n)
			}
		}
		switch {
		case err == nil:
			if n == 0 {
				time.Sleep(readIdleBackoff)
			}
		case errors.Is(err, syscall.EAGAIN):
			time.Sleep(readIdleBackoff)
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			return
		default:
			if !s.exiting.Load() {
				s.log().Debug("terminal read ended", "err", err)
			}
			return
		}
	}
}

// ID returns the terminal id.
func (s *Session) ID() int32 { return s.ident.Load().id }

// Title returns the display title.
func (s *Session) Title() string { return s.ident.Load().title }

func (s *Session) log() *slog.Logger { return s.ident.Load().logger }

// rekey moves the session onto terminal id after a reconnect remap.
func (s *Session) rekey(id int32) {
	s.ident.Store(newIdentity(id, s.baseLogger))
}

// Pid returns the process id of the most recent shell.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Size returns the last requested window size.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Opened reports whether a controller is attached and expecting output.
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Running reports whether the session still holds its process.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// LastActivity returns the time of the last input or output.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Recent returns up to maxBytes of the most recent buffered output.
func (s *Session) Recent(maxBytes int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Recent(maxBytes)
}

// Info returns the window size and a short replay of recent output.
func (s *Session) Info() (rows, cols uint16, recent []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols, s.buffer.Recent(infoReplayBytes)
}

// Resize changes the window size of the pseudo-terminal.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows, s.cols = rows, cols
	s.lastActivity = s.now()
	if s.proc == nil {
		return nil
	}
	if err := s.proc.Resize(rows, cols); err != nil {
		return fmt.Errorf("resize terminal %d: %w", s.ID(), err)
	}
	return nil
}

// Write queues input for the terminal. It blocks while the input channel is
// full and never drops data; it fails only once the session is stopping or
// its writer has exited.
func (s *Session) Write(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := s.enqueue(append([]byte(nil), data...)); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
	return nil
}

func (s *Session) enqueue(chunk []byte) error {
	s.inMu.RLock()
	defer s.inMu.RUnlock()
	if s.input == nil || s.exiting.Load() {
		return ErrSessionStopped
	}
	select {
	case s.input <- chunk:
		return nil
	case <-s.stopping:
		return ErrSessionStopped
	case <-s.writerDone:
		return ErrSessionStopped
	}
}

// Stop tears the session down: no more input is accepted, the shell is killed
// and the terminal handle released, the reader and then the writer are
// joined, and the child is handed to the reaper. Stop is idempotent. The
// buffer and metadata stay readable afterwards.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.exiting.Store(true)
		close(s.stopping)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.opened = false

		s.inMu.Lock()
		started := s.input != nil
		if started {
			select {
			case s.input <- stopNudge:
			default:
			}
			close(s.input)
		}
		s.inMu.Unlock()

		if started {
			select {
			case <-s.writerDone:
			case <-time.After(stopWriteGrace):
			}
		}
		// A live shell keeps the terminal open; killing it first makes the
		// pending read end even where closing the master does not wake it.
		if s.child != nil {
			if err := s.child.Kill(); err != nil {
				s.log().Debug("kill terminal", "pid", s.child.Pid(), "err", err)
			}
		}
		s.output = nil
		if s.proc != nil {
			if err := s.proc.Close(); err != nil {
				s.log().Debug("close terminal", "err", err)
			}
			s.proc = nil
		}
		if started {
			<-s.readerDone
			<-s.writerDone
			s.metrics.sessionEnded()
		}
		if s.child != nil {
			s.reaper.Add(s.child)
			s.child = nil
		}
		s.log().Info("terminal stopped", "pid", s.pid)
	})
}

// releaseChild detaches the child and hands it to the reaper, killing it
// first if it is still running. The exit code is the child's own when it had
// already exited; otherwise ForcedExitCode when forced is set, else 0.
// Callers hold s.mu.
func (s *Session) releaseChild(forced bool) int32 {
	child := s.child
	if child == nil {
		return 0
	}
	s.child = nil
	defer s.reaper.Add(child)
	code, exited, err := child.TryWait()
	if err == nil && exited {
		return int32(code)
	}
	if kerr := child.Kill(); kerr != nil {
		s.log().Debug("kill terminal", "pid", child.Pid(), "err", kerr)
	}
	if forced {
		return ForcedExitCode
	}
	return 0
}

func (s *Session) readerFinished() bool {
	select {
	case <-s.readerDone:
		return true
	default:
		return false
	}
}

// drainLocked collects available output. Chunks are appended to the buffer
// and, when emit is set, turned into data responses addressed to terminalID.
// Callers hold s.mu.
func (s *Session) drainLocked(terminalID int32, emit bool) []Response {
	var out []Response
	if emit && len(s.replay) > 0 {
		out = append(out, s.dataResponse(terminalID, s.replay))
		s.replay = nil
	}
	if s.output == nil {
		return out
	}
	for {
		select {
		case chunk := <-s.output:
			s.buffer.Append(chunk)
			s.lastActivity = s.now()
			if emit {
				out = append(out, s.dataResponse(terminalID, chunk))
			}
		default:
			return out
		}
	}
}

func (s *Session) dataResponse(terminalID int32, chunk []byte) DataResponse {
	data, compressed := compressPayload(chunk, s.limits.CompressThreshold)
	s.metrics.outputBytes(len(chunk), len(data))
	return DataResponse{TerminalID: terminalID, Data: data, Compressed: compressed}
}

// attach marks the session opened and queues a replay of recent output for
// the next drain. It reports the current pid.
func (s *Session) attach(replay bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.lastActivity = s.now()
	if replay {
		s.replay = s.buffer.Recent(infoReplayBytes)
	}
	return s.pid
}

func (s *Session) detach() {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
}
