package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/antonkrylov/termhost/internal/terminal"
)

func TestActionFrames(t *testing.T) {
	actions := []terminal.Action{
		terminal.OpenAction{TerminalID: 1, Rows: 24, Cols: 80},
		terminal.ResizeAction{TerminalID: 7, Rows: 60, Cols: 200},
		terminal.DataAction{TerminalID: 2, Data: []byte("ls -la\r")},
		terminal.CloseAction{TerminalID: 3},
		terminal.CloseAction{},
	}
	for _, a := range actions {
		b, err := (&ActionFrame{Action: a}).MarshalWire()
		require.NoError(t, err)
		var got ActionFrame
		require.NoError(t, got.UnmarshalWire(b))
		assert.Equal(t, a, got.Action)
	}
}

func TestResponseFrames(t *testing.T) {
	responses := []terminal.Response{
		terminal.OpenedResponse{
			TerminalID:         4,
			Success:            true,
			Message:            "Reconnected to existing terminal",
			Pid:                31337,
			ServiceID:          "ts_abc",
			PersistentSessions: []int32{1, 5, 9},
		},
		terminal.DataResponse{TerminalID: 4, Data: []byte{0x28, 0xb5, 0x2f, 0xfd}, Compressed: true},
		terminal.ClosedResponse{TerminalID: 4, ExitCode: terminal.ForcedExitCode},
		terminal.ErrorResponse{Message: "Terminal service ts_abc not found"},
	}
	for _, r := range responses {
		b, err := (&ResponseFrame{Response: r}).MarshalWire()
		require.NoError(t, err)
		var got ResponseFrame
		require.NoError(t, got.UnmarshalWire(b))
		assert.Equal(t, r, got.Response)
	}
}

func TestEmptyUnionIsRejected(t *testing.T) {
	_, err := (&ActionFrame{}).MarshalWire()
	assert.ErrorIs(t, err, errEmptyUnion)

	var f ResponseFrame
	assert.ErrorIs(t, f.UnmarshalWire(nil), errEmptyUnion)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b, err := (&ActionFrame{Action: terminal.CloseAction{TerminalID: 9}}).MarshalWire()
	require.NoError(t, err)
	// field 15, fixed32
	b = append(b, 0x7d, 1, 2, 3, 4)

	var got ActionFrame
	require.NoError(t, got.UnmarshalWire(b))
	assert.Equal(t, terminal.CloseAction{TerminalID: 9}, got.Action)
}

func TestTruncatedInput(t *testing.T) {
	b, err := (&ActionFrame{Action: terminal.DataAction{TerminalID: 1, Data: []byte("hello")}}).MarshalWire()
	require.NoError(t, err)
	var got ActionFrame
	assert.Error(t, got.UnmarshalWire(b[:len(b)-2]))
}

func TestCodecIsRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	list := &ServiceList{Services: []ServiceInfo{
		{ServiceID: "a", Persistent: true, TerminalCount: 2, CreatedUnix: 1700000000, LastActivityUnix: 1700000100},
		{ServiceID: "b"},
	}}
	b, err := c.Marshal(list)
	require.NoError(t, err)
	var got ServiceList
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, *list, got)

	_, err = c.Marshal("not a message")
	assert.Error(t, err)
}

func TestControlMessages(t *testing.T) {
	ping := &PingReply{Message: "pong", UnixNano: 1712345678901234567}
	b, err := ping.MarshalWire()
	require.NoError(t, err)
	var gotPing PingReply
	require.NoError(t, gotPing.UnmarshalWire(b))
	assert.Equal(t, *ping, gotPing)

	ver := &VersionReply{Version: "v0.3.1", Commit: "abc123", BuildTime: "2024-05-01T10:00:00Z", GoVersion: "go1.24.0"}
	b, err = ver.MarshalWire()
	require.NoError(t, err)
	var gotVer VersionReply
	require.NoError(t, gotVer.UnmarshalWire(b))
	assert.Equal(t, *ver, gotVer)
}
