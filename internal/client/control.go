package client

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/antonkrylov/termhost/internal/remote"
	"github.com/antonkrylov/termhost/internal/wire"
)

// Control wraps the unary control service.
type Control struct {
	cc grpc.ClientConnInterface
}

func NewControl(cc grpc.ClientConnInterface) *Control {
	return &Control{cc: cc}
}

// Ping returns the echoed message and the round-trip time.
func (c *Control) Ping(ctx context.Context, message string) (*wire.PingReply, time.Duration, error) {
	start := time.Now()
	out := new(wire.PingReply)
	if err := c.cc.Invoke(ctx, remote.PingMethod, &wire.PingRequest{Message: message}, out); err != nil {
		return nil, 0, err
	}
	return out, time.Since(start), nil
}

func (c *Control) Version(ctx context.Context) (*wire.VersionReply, error) {
	out := new(wire.VersionReply)
	if err := c.cc.Invoke(ctx, remote.VersionMethod, &wire.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Control) ListServices(ctx context.Context) (*wire.ServiceList, error) {
	out := new(wire.ServiceList)
	if err := c.cc.Invoke(ctx, remote.ListServicesMethod, &wire.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}
