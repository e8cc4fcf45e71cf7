package client

import (
	"fmt"
	"os"
	"time"

	"github.com/antonkrylov/termhost/internal/config"
)

type Connection struct {
	Addr        string
	Timeout     time.Duration
	TLS         bool
	ServiceID   string
	ConfigPath  string
	ContextName string
	Config      *config.Config
	Context     *config.Context
}

// ResolveConnection applies, in order of precedence:
// 1) flags (addr, timeout, contextName)
// 2) config file context values
// 3) environment (TERMHOST_ADDR)
// 4) defaults (127.0.0.1:7447, 15s)
func ResolveConnection(configPath, contextName, addr string, timeout time.Duration) (*Connection, error) {
	conn := &Connection{
		ConfigPath:  configPath,
		ContextName: contextName,
		Addr:        addr,
		Timeout:     timeout,
	}

	if conn.ConfigPath != "" {
		cfg, err := config.Load(conn.ConfigPath)
		if err != nil {
			return nil, err
		}
		conn.Config = cfg
	}

	if conn.Config != nil {
		ctx, _, err := conn.Config.Context(conn.ContextName)
		if err != nil {
			return nil, err
		}
		conn.Context = ctx
	}

	if conn.Context != nil {
		if conn.Addr == "" {
			conn.Addr = conn.Context.Server
		}
		conn.TLS = conn.Context.TLS
		conn.ServiceID = conn.Context.ServiceID
	}

	if conn.Timeout == 0 {
		if conn.Context != nil && conn.Context.TimeoutSeconds > 0 {
			conn.Timeout = time.Duration(conn.Context.TimeoutSeconds) * time.Second
		} else {
			conn.Timeout = 15 * time.Second
		}
	}

	if conn.Addr == "" {
		conn.Addr = os.Getenv("TERMHOST_ADDR")
		if conn.Addr == "" {
			conn.Addr = "127.0.0.1:7447"
		}
	}

	if conn.Addr == "" {
		return nil, fmt.Errorf("server address is required")
	}

	return conn, nil
}

// Mode reports the dial security mode for the resolved context.
func (c *Connection) Mode() DialSecurityMode {
	if c.TLS {
		return DialTLS
	}
	return DialInsecure
}
