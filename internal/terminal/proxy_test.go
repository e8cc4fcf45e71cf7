package terminal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/termhost/internal/events"
)

func TestReconnectPreservesHistory(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, first := openTerminal(t, reg, "svc-persist", true, 1)
	proc := spawner.last()

	proc.emit("before the gap\n")
	got := drainUntil(t, p, func(rs []Response) bool { return len(rs) > 0 })
	assert.Equal(t, "before the gap\n", collectData(t, got, 1))
	p.OnDisconnect()
	require.NotNil(t, reg.Get("svc-persist"))

	_, err := reg.GetOrCreate("svc-persist", true, false)
	require.NoError(t, err)
	p2 := NewProxy(reg, "svc-persist", nil, nil)
	assert.True(t, p2.Persistent())

	resp, err := p2.HandleAction(context.Background(), OpenAction{TerminalID: 1, Rows: 24, Cols: 80})
	require.NoError(t, err)
	opened := resp.(OpenedResponse)
	assert.True(t, opened.Success)
	assert.Equal(t, "Reconnected to existing terminal", opened.Message)
	assert.Equal(t, first.Pid, opened.Pid)
	assert.Empty(t, opened.PersistentSessions)
	assert.Equal(t, 1, spawner.count())

	buf, ok := reg.Get("svc-persist").TerminalBuffer(1, 1<<20)
	require.True(t, ok)
	assert.Equal(t, "before the gap\n", string(buf))

	replay := drainUntil(t, p2, func(rs []Response) bool { return len(rs) > 0 })
	assert.Equal(t, "before the gap\n", collectData(t, replay, 1))
}

func TestReconnectListsSiblings(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	_, opened := openTerminal(t, reg, "svc-sync", true, 1)
	assert.Empty(t, opened.PersistentSessions)

	p := NewProxy(reg, "svc-sync", nil, nil)
	for _, id := range []int32{2, 3} {
		resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: id, Rows: 24, Cols: 80})
		require.NoError(t, err)
		assert.Empty(t, resp.(OpenedResponse).PersistentSessions)
	}

	_, err := reg.GetOrCreate("svc-sync", true, false)
	require.NoError(t, err)
	assert.True(t, reg.Get("svc-sync").NeedsSessionSync())

	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 2, Rows: 24, Cols: 80})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 3}, resp.(OpenedResponse).PersistentSessions)
	assert.False(t, reg.Get("svc-sync").NeedsSessionSync())

	resp, err = p.HandleAction(context.Background(), OpenAction{TerminalID: 1, Rows: 24, Cols: 80})
	require.NoError(t, err)
	assert.Empty(t, resp.(OpenedResponse).PersistentSessions)
}

func TestReconnectRemapsLowestTerminal(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc-remap", true, 4)
	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 9, Rows: 24, Cols: 80})
	require.NoError(t, err)
	pid4 := reg.Get("svc-remap").Session(4).Pid()
	require.Equal(t, spawner.procs[0].pid, pid4)
	require.IsType(t, OpenedResponse{}, resp)

	_, err = reg.GetOrCreate("svc-remap", true, false)
	require.NoError(t, err)
	resp, err = p.HandleAction(context.Background(), OpenAction{TerminalID: 1, Rows: 24, Cols: 80})
	require.NoError(t, err)

	opened := resp.(OpenedResponse)
	assert.Equal(t, "Reconnected to existing terminal", opened.Message)
	assert.Equal(t, uint32(pid4), opened.Pid)
	assert.Equal(t, []int32{9}, opened.PersistentSessions)
	assert.Nil(t, reg.Get("svc-remap").Session(4))
	assert.Equal(t, 2, spawner.count())

	moved := reg.Get("svc-remap").Session(1)
	require.NotNil(t, moved)
	assert.Equal(t, int32(1), moved.ID())
	assert.Equal(t, "Terminal 1", moved.Title())
	terms := reg.Get("svc-remap").ListTerminals()
	require.Len(t, terms, 2)
	assert.Equal(t, int32(1), terms[0].TerminalID)
	assert.Equal(t, "Terminal 1", terms[0].Title)
}

func TestProxyModeGovernsDisconnect(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	_, _ = openTerminal(t, reg, "svc-mode", false, 1)

	// A proxy bound as persistent detaches even though the service itself
	// was created non-persistent.
	NewProxy(reg, "svc-mode", boolPtr(true), nil).OnDisconnect()
	require.NotNil(t, reg.Get("svc-mode"))
	assert.False(t, reg.Get("svc-mode").Session(1).Opened())
	assert.False(t, spawner.last().wasKilled())

	NewProxy(reg, "svc-mode", boolPtr(false), nil).OnDisconnect()
	assert.Nil(t, reg.Get("svc-mode"))
	assert.True(t, spawner.last().wasKilled())
}

func TestDisconnectBehaviorDependsOnPersistence(t *testing.T) {
	tests := []struct {
		name       string
		persistent bool
	}{
		{name: "non-persistent", persistent: false},
		{name: "persistent", persistent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spawner := &fakeSpawner{}
			reg := newTestRegistry(t, spawner, nil)
			p, opened := openTerminal(t, reg, "svc", tt.persistent, 1)
			proc := spawner.last()

			proc.emit("last words\n")
			proc.exit(3)
			got := drainUntil(t, p, hasClosed(1))

			var closed ClosedResponse
			for _, r := range got {
				if c, ok := r.(ClosedResponse); ok {
					closed = c
				}
			}
			assert.Equal(t, int32(3), closed.ExitCode)
			assert.Equal(t, "last words\n", collectData(t, got, 1))

			svc := reg.Get("svc")
			sess := svc.Session(1)
			if !tt.persistent {
				assert.Nil(t, sess)
				return
			}
			require.NotNil(t, sess)
			assert.False(t, sess.Running())
			assert.Equal(t, int(opened.Pid), sess.Pid())
			buf, ok := svc.TerminalBuffer(1, 1024)
			require.True(t, ok)
			assert.Equal(t, "last words\n", string(buf))

			for i := 0; i < 3; i++ {
				for _, r := range p.DrainOutputs() {
					assert.NotEqual(t, ClosedResponse{TerminalID: 1, ExitCode: 3}, r)
				}
			}
		})
	}
}

func TestOpenRestartsExitedPersistentTerminal(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, first := openTerminal(t, reg, "svc-restart", true, 1)
	spawner.last().emit("history\n")
	spawner.last().exit(0)
	drainUntil(t, p, hasClosed(1))

	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 1, Rows: 30, Cols: 100})
	require.NoError(t, err)
	opened := resp.(OpenedResponse)
	assert.True(t, opened.Success)
	assert.Equal(t, "Terminal restarted", opened.Message)
	assert.NotEqual(t, first.Pid, opened.Pid)
	assert.Equal(t, 2, spawner.count())

	buf, ok := reg.Get("svc-restart").TerminalBuffer(1, 1024)
	require.True(t, ok)
	assert.Equal(t, "history\n", string(buf))
	assert.True(t, reg.Get("svc-restart").Session(1).Running())
}

func TestCloseIsAuthoritative(t *testing.T) {
	for _, persistent := range []bool{false, true} {
		spawner := &fakeSpawner{}
		reg := newTestRegistry(t, spawner, nil)
		p, _ := openTerminal(t, reg, "svc-close", persistent, 5)

		resp, err := p.HandleAction(context.Background(), CloseAction{TerminalID: 5})
		require.NoError(t, err)
		assert.Equal(t, ClosedResponse{TerminalID: 5, ExitCode: ForcedExitCode}, resp)
		assert.Nil(t, reg.Get("svc-close").Session(5))
		assert.True(t, spawner.last().wasKilled())

		resp, err = p.HandleAction(context.Background(), CloseAction{TerminalID: 5})
		require.NoError(t, err)
		assert.Nil(t, resp)
	}
}

func TestCloseReportsOwnExitCode(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc-exit", true, 1)
	proc := spawner.last()
	proc.mu.Lock()
	proc.exited, proc.exitCode = true, 2
	proc.mu.Unlock()

	resp, err := p.HandleAction(context.Background(), CloseAction{TerminalID: 1})
	require.NoError(t, err)
	assert.Equal(t, ClosedResponse{TerminalID: 1, ExitCode: 2}, resp)
}

func TestUnknownTargetsAreIgnored(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc-unknown", false, 1)

	for _, a := range []Action{
		ResizeAction{TerminalID: 42, Rows: 10, Cols: 10},
		DataAction{TerminalID: 42, Data: []byte("ls\n")},
		CloseAction{TerminalID: 42},
	} {
		resp, err := p.HandleAction(context.Background(), a)
		assert.NoError(t, err)
		assert.Nil(t, resp)
	}
}

func TestMissingServiceYieldsError(t *testing.T) {
	reg := newTestRegistry(t, &fakeSpawner{}, nil)
	p := NewProxy(reg, "ts_missing", nil, nil)
	assert.False(t, p.Persistent())

	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 1})
	require.NoError(t, err)
	assert.Equal(t, ErrorResponse{Message: "Terminal service ts_missing not found"}, resp)
	assert.Nil(t, p.DrainOutputs())
}

func TestSpawnFailureCreatesNoSession(t *testing.T) {
	spawner := &fakeSpawner{err: errSpawn}
	reg := newTestRegistry(t, spawner, nil)
	_, err := reg.GetOrCreate("svc-fail", false, false)
	require.NoError(t, err)
	p := NewProxy(reg, "svc-fail", nil, nil)

	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 1, Rows: 24, Cols: 80})
	require.NoError(t, err)
	errResp, ok := resp.(ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, errResp.Message, errSpawn.Error())
	assert.False(t, reg.Get("svc-fail").HasActiveTerminals())
	assert.Zero(t, reg.SessionCount(false))
}

func TestDataReachesTerminal(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc-data", false, 1)

	_, err := p.HandleAction(context.Background(), DataAction{TerminalID: 1, Data: []byte("echo hi\n")})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return spawner.last().input() == "\recho hi\n"
	}, defaultWait, pollTick)
}

func TestDrainSkipsDetachedTerminals(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc-detached", true, 1)

	_, err := reg.GetOrCreate("svc-detached", true, false)
	require.NoError(t, err)
	spawner.last().emit("while away\n")

	require.Eventually(t, func() bool {
		assert.Empty(t, p.DrainOutputs())
		buf, _ := reg.Get("svc-detached").TerminalBuffer(1, 1024)
		return string(buf) == "while away\n"
	}, defaultWait, pollTick)
}

func TestCompressesLargeOutput(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc-zstd", false, 1)

	payload := ""
	for len(payload) < 2000 {
		payload += "drwxr-xr-x 2 root root 4096 .\n"
	}
	spawner.last().emit(payload)
	got := drainUntil(t, p, func(rs []Response) bool { return len(rs) > 0 })

	d := got[0].(DataResponse)
	assert.True(t, d.Compressed)
	assert.Equal(t, payload, collectData(t, got, 1))
}

func TestEventsArePublished(t *testing.T) {
	rec := events.NewRecorder(16)
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, func(o *Options) { o.Events = rec })
	p, _ := openTerminal(t, reg, "svc-events", false, 1)
	_, err := p.HandleAction(context.Background(), CloseAction{TerminalID: 1})
	require.NoError(t, err)
	p.OnDisconnect()

	var kinds []events.Kind
	for len(rec.Events()) > 0 {
		kinds = append(kinds, (<-rec.Events()).Kind)
	}
	assert.Equal(t, []events.Kind{
		events.ServiceCreated,
		events.TerminalOpened,
		events.TerminalClosed,
		events.ServiceRemoved,
	}, kinds)
	assert.Nil(t, reg.Get("svc-events"))
}
