package remote

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"

	"github.com/antonkrylov/termhost/internal/terminal"
)

const stopGrace = 5 * time.Second

type Config struct {
	// ListenAddr is a tcp host:port or unix:///path/to/socket.
	ListenAddr string
	Registry   *terminal.Registry
	// PollInterval is the cadence at which attached terminals are drained.
	PollInterval time.Duration
	// RunAs, when set, makes every shell run as this user.
	RunAs string

	Version   string
	Commit    string
	BuildTime string
	Logger    *slog.Logger
}

type Server struct {
	cfg Config

	grpcServer *grpc.Server
	listener   net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("remote: registry is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:7447"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.Registry.Limits().PollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	s := &Server{cfg: cfg}
	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	var user *terminal.UserContext
	if cfg.RunAs != "" {
		user = &terminal.UserContext{Username: cfg.RunAs}
	}
	RegisterTerminalServer(s.grpcServer, &terminalService{
		reg:    cfg.Registry,
		poll:   cfg.PollInterval,
		user:   user,
		logger: cfg.Logger,
	})
	RegisterControlServer(s.grpcServer, &controlService{cfg: cfg, reg: cfg.Registry})
	return s, nil
}

// Start listens on ListenAddr and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	lis, err := listen(s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = lis
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.cfg.Logger.Error("grpc serve", "err", err)
		}
	}()
	return nil
}

// Serve accepts connections on lis until Stop is called. The gRPC server
// owns lis and closes it on Stop.
func (s *Server) Serve(lis net.Listener) error {
	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return net.Listen("unix", path)
	}
	return net.Listen("tcp", addr)
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight calls, then cuts attach streams that are still open
// after stopGrace.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopGrace):
			s.grpcServer.Stop()
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
