package terminal

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCapacity(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	for i := 0; i < 100; i++ {
		_, err := reg.GetOrCreate(fmt.Sprintf("svc-%03d", i), false, false)
		require.NoError(t, err)
	}

	_, err := reg.GetOrCreate("svc-overflow", false, false)
	require.ErrorIs(t, err, ErrCapacity)
	assert.Contains(t, err.Error(), "100")
	assert.Nil(t, reg.Get("svc-overflow"))
	assert.Len(t, reg.List(), 100)

	// Existing services keep working at capacity.
	_, err = reg.GetOrCreate("svc-042", true, false)
	require.NoError(t, err)
	p := NewProxy(reg, "svc-042", nil, nil)
	resp, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 1, Rows: 24, Cols: 80})
	require.NoError(t, err)
	assert.True(t, resp.(OpenedResponse).Success)

	require.True(t, reg.Remove("svc-007"))
	assert.False(t, reg.Remove("svc-007"))
	_, err = reg.GetOrCreate("svc-overflow", false, false)
	require.NoError(t, err)
}

func TestRegistryListAndCounts(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "b", true, 1)
	_, err := p.HandleAction(context.Background(), OpenAction{TerminalID: 2, Rows: 24, Cols: 80})
	require.NoError(t, err)
	_, _ = openTerminal(t, reg, "a", false, 1)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ServiceID)
	assert.Equal(t, 1, list[0].TerminalCount)
	assert.False(t, list[0].Persistent)
	assert.Equal(t, "b", list[1].ServiceID)
	assert.Equal(t, 2, list[1].TerminalCount)
	assert.True(t, list[1].Persistent)

	assert.Equal(t, 3, reg.SessionCount(false))
	_, err = p.HandleAction(context.Background(), CloseAction{TerminalID: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.SessionCount(false))
	assert.GreaterOrEqual(t, reg.SessionCount(true), 2)

	terms := reg.Get("b").ListTerminals()
	require.Len(t, terms, 1)
	assert.Equal(t, int32(1), terms[0].TerminalID)
	assert.Equal(t, "Terminal 1", terms[0].Title)
	assert.True(t, terms[0].Running)
}

func TestRegistrySetPersistent(t *testing.T) {
	reg := newTestRegistry(t, &fakeSpawner{}, nil)
	require.ErrorIs(t, reg.SetPersistent("nope", true), ErrServiceNotFound)

	_, _ = openTerminal(t, reg, "svc", false, 1)
	svc := reg.Get("svc")
	assert.False(t, svc.NeedsSessionSync())

	require.NoError(t, reg.SetPersistent("svc", true))
	assert.True(t, svc.Persistent())
	assert.True(t, svc.NeedsSessionSync())

	NewProxy(reg, "svc", nil, nil).OnDisconnect()
	assert.NotNil(t, reg.Get("svc"))
}

func TestRegistrySweep(t *testing.T) {
	clock := newFakeClock()
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, func(o *Options) {
		o.Now = clock.Now
		o.Limits.SweepInterval = 24 * time.Hour
	})

	_, _ = openTerminal(t, reg, "transient", false, 1)
	_, _ = openTerminal(t, reg, "kept", true, 1)
	_, err := reg.GetOrCreate("empty", true, false)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	assert.Empty(t, reg.Sweep(clock.Now()))

	clock.Advance(31 * time.Minute)
	assert.Equal(t, []string{"transient"}, reg.Sweep(clock.Now()))
	assert.Nil(t, reg.Get("transient"))

	clock.Advance(time.Hour)
	assert.Equal(t, []string{"empty"}, reg.Sweep(clock.Now()))
	assert.NotNil(t, reg.Get("kept"))
	assert.True(t, reg.Get("kept").Session(1).Running())
}

func TestRegistryMaintenanceReapsChildren(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := newTestRegistry(t, spawner, nil)
	p, _ := openTerminal(t, reg, "svc", false, 1)

	proc := newFakeProcess(77, 1)
	reg.Reaper().Add(proc)
	assert.Equal(t, 1, reg.Reaper().Len())
	proc.exit(0)

	_, err := p.HandleAction(context.Background(), CloseAction{TerminalID: 1})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Reaper().Len() == 0 }, defaultWait, pollTick)
}

func TestRegistryClose(t *testing.T) {
	spawner := &fakeSpawner{}
	reg := NewRegistry(Options{Spawner: spawner})
	_, _ = openTerminal(t, reg, "one", true, 1)
	_, _ = openTerminal(t, reg, "two", false, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Close(ctx))
	require.NoError(t, reg.Close(ctx))

	assert.Empty(t, reg.List())
	assert.Zero(t, reg.Reaper().Len())
	for _, p := range spawner.procs {
		assert.True(t, p.wasKilled())
	}
	_, err := reg.GetOrCreate("three", false, false)
	assert.Error(t, err)
}

func TestRegistryCloseHonoursDeadline(t *testing.T) {
	hang := make(chan struct{})
	spawner := &fakeSpawner{hang: hang}
	reg := NewRegistry(Options{Spawner: spawner})
	_, _ = openTerminal(t, reg, "stuck", true, 1)
	t.Cleanup(func() { close(hang) })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := reg.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Eventually(t, spawner.last().wasKilled, 2*time.Second, 10*time.Millisecond)
}

func TestNewServiceID(t *testing.T) {
	a, b := NewServiceID(), NewServiceID()
	assert.True(t, strings.HasPrefix(a, "ts_"))
	assert.NotEqual(t, a, b)
}
