package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveConnectionDefaults(t *testing.T) {
	t.Setenv("TERMHOST_ADDR", "")
	conn, err := ResolveConnection("", "", "", 0)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7447", conn.Addr)
	require.Equal(t, 15*time.Second, conn.Timeout)
	require.Equal(t, DialInsecure, conn.Mode())
}

func TestResolveConnectionEnvironment(t *testing.T) {
	t.Setenv("TERMHOST_ADDR", "10.0.0.5:7447")
	conn, err := ResolveConnection("", "", "", 0)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5:7447", conn.Addr)
}

func TestResolveConnectionContext(t *testing.T) {
	t.Setenv("TERMHOST_ADDR", "ignored:1")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
currentContext: lab
contexts:
  lab:
    server: lab.internal:7447
    timeoutSeconds: 3
    tls: true
    serviceId: ts_lab
`), 0o600))

	conn, err := ResolveConnection(path, "", "", 0)
	require.NoError(t, err)
	require.Equal(t, "lab.internal:7447", conn.Addr)
	require.Equal(t, 3*time.Second, conn.Timeout)
	require.Equal(t, DialTLS, conn.Mode())
	require.Equal(t, "ts_lab", conn.ServiceID)

	conn, err = ResolveConnection(path, "", "override:7447", time.Second)
	require.NoError(t, err)
	require.Equal(t, "override:7447", conn.Addr)
	require.Equal(t, time.Second, conn.Timeout)

	_, err = ResolveConnection(path, "missing", "", 0)
	require.Error(t, err)
}
