package remote

import (
	"context"
	"runtime"
	"time"

	"github.com/antonkrylov/termhost/internal/terminal"
	"github.com/antonkrylov/termhost/internal/wire"
)

type controlService struct {
	cfg Config
	reg *terminal.Registry
}

func (s *controlService) Ping(_ context.Context, req *wire.PingRequest) (*wire.PingReply, error) {
	return &wire.PingReply{Message: req.Message, UnixNano: time.Now().UnixNano()}, nil
}

func (s *controlService) Version(context.Context, *wire.Empty) (*wire.VersionReply, error) {
	return &wire.VersionReply{
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
		BuildTime: s.cfg.BuildTime,
		GoVersion: runtime.Version(),
	}, nil
}

func (s *controlService) ListServices(context.Context, *wire.Empty) (*wire.ServiceList, error) {
	list := s.reg.List()
	out := &wire.ServiceList{Services: make([]wire.ServiceInfo, 0, len(list))}
	for _, m := range list {
		out.Services = append(out.Services, wire.ServiceInfo{
			ServiceID:        m.ServiceID,
			Persistent:       m.Persistent,
			TerminalCount:    int32(m.TerminalCount),
			CreatedUnix:      m.Created.Unix(),
			LastActivityUnix: m.LastActivity.Unix(),
		})
	}
	return out, nil
}
