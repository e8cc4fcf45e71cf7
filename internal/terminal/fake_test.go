package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	pid int
	out chan []byte

	closed    chan struct{}
	closeOnce sync.Once
	eof       chan struct{}
	eofOnce   sync.Once
	gate      chan struct{}
	// hang, when set, keeps Read blocked through Close and Kill until it is
	// closed.
	hang chan struct{}

	mu       sync.Mutex
	written  bytes.Buffer
	rows     uint16
	cols     uint16
	exited   bool
	exitCode int
	killed   bool
}

func newFakeProcess(pid int, backlog int) *fakeProcess {
	return &fakeProcess{
		pid:    pid,
		out:    make(chan []byte, backlog),
		closed: make(chan struct{}),
		eof:    make(chan struct{}),
	}
}

func (f *fakeProcess) Pid() int { return f.pid }

func (f *fakeProcess) Read(p []byte) (int, error) {
	if f.hang != nil {
		select {
		case b := <-f.out:
			return copy(p, b), nil
		case <-f.hang:
			return 0, io.EOF
		}
	}
	select {
	case b := <-f.out:
		return copy(p, b), nil
	case <-f.closed:
		return 0, os.ErrClosed
	case <-f.eof:
		select {
		case b := <-f.out:
			return copy(p, b), nil
		default:
			return 0, io.EOF
		}
	}
}

func (f *fakeProcess) Write(p []byte) (int, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closed:
			return 0, os.ErrClosed
		}
	}
	select {
	case <-f.closed:
		return 0, os.ErrClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeProcess) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeProcess) Resize(rows, cols uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.cols = rows, cols
	return nil
}

func (f *fakeProcess) Kill() error {
	f.mu.Lock()
	if !f.exited {
		f.killed = true
		f.exited = true
		f.exitCode = -1
	}
	f.mu.Unlock()
	f.eofOnce.Do(func() { close(f.eof) })
	return nil
}

func (f *fakeProcess) TryWait() (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode, f.exited, nil
}

// exit simulates the shell terminating on its own.
func (f *fakeProcess) exit(code int) {
	f.mu.Lock()
	f.exited = true
	f.exitCode = code
	f.mu.Unlock()
	f.eofOnce.Do(func() { close(f.eof) })
}

func (f *fakeProcess) emit(s string) { f.out <- []byte(s) }

func (f *fakeProcess) input() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func (f *fakeProcess) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type fakeSpawner struct {
	mu      sync.Mutex
	nextPid int
	backlog int
	gated   bool
	hang    chan struct{}
	err     error
	procs   []*fakeProcess
	reqs    []SpawnRequest
}

func (s *fakeSpawner) Spawn(_ context.Context, req SpawnRequest) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	s.nextPid++
	backlog := s.backlog
	if backlog == 0 {
		backlog = 64
	}
	p := newFakeProcess(1000+s.nextPid, backlog)
	if s.gated {
		p.gate = make(chan struct{})
	}
	p.hang = s.hang
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errSpawn = errors.New("openpty: no devices left")

func newTestRegistry(t *testing.T, spawner Spawner, mutate func(*Options)) *Registry {
	t.Helper()
	opts := Options{
		Spawner: spawner,
		Limits: Limits{
			ChannelCapacity: 8,
			ReapInterval:    5 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	reg := NewRegistry(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, reg.Close(ctx))
	})
	return reg
}

func boolPtr(v bool) *bool { return &v }

// openTerminal creates the service if needed and opens terminal id on it.
func openTerminal(t *testing.T, reg *Registry, serviceID string, persistent bool, id int32) (*Proxy, OpenedResponse) {
	t.Helper()
	_, err := reg.GetOrCreate(serviceID, persistent, false)
	require.NoError(t, err)
	p := NewProxy(reg, serviceID, boolPtr(persistent), nil)
	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: id, Rows: 24, Cols: 80})
	require.NoError(t, err)
	opened, ok := resp.(OpenedResponse)
	require.Truef(t, ok, "expected OpenedResponse, got %#v", resp)
	require.True(t, opened.Success)
	return p, opened
}

// drainUntil polls p until cond holds on the accumulated responses.
func drainUntil(t *testing.T, p *Proxy, cond func([]Response) bool) []Response {
	t.Helper()
	var all []Response
	require.Eventually(t, func() bool {
		all = append(all, p.DrainOutputs()...)
		return cond(all)
	}, 2*time.Second, 5*time.Millisecond)
	return all
}

func hasClosed(id int32) func([]Response) bool {
	return func(rs []Response) bool {
		for _, r := range rs {
			if c, ok := r.(ClosedResponse); ok && c.TerminalID == id {
				return true
			}
		}
		return false
	}
}

func collectData(t *testing.T, rs []Response, id int32) string {
	t.Helper()
	var b bytes.Buffer
	for _, r := range rs {
		d, ok := r.(DataResponse)
		if !ok || d.TerminalID != id {
			continue
		}
		payload, err := d.Payload()
		require.NoError(t, err)
		b.Write(payload)
	}
	return b.String()
}

const (
	defaultWait = 2 * time.Second
	pollTick    = 5 * time.Millisecond
)
