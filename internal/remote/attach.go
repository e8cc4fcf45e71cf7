package remote

import (
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/antonkrylov/termhost/internal/terminal"
	"github.com/antonkrylov/termhost/internal/wire"
)

var errClientDone = errors.New("client closed the stream")

type terminalService struct {
	reg    *terminal.Registry
	poll   time.Duration
	user   *terminal.UserContext
	logger *slog.Logger
}

// Attach binds one controller connection to a terminal service. Actions are
// dispatched as they arrive while a poll loop forwards terminal output at a
// fixed cadence. When the stream ends, non-persistent services go away.
func (s *terminalService) Attach(stream grpc.ServerStream) error {
	ctx := stream.Context()
	md, _ := metadata.FromIncomingContext(ctx)

	serviceID := firstValue(md, MetadataServiceID)
	if serviceID == "" {
		serviceID = terminal.NewServiceID()
	}
	var override *bool
	if v := firstValue(md, MetadataPersistent); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid %s %q", MetadataPersistent, v)
		}
		override = &b
	}
	persistent := false
	switch {
	case override != nil:
		persistent = *override
	default:
		if svc := s.reg.Get(serviceID); svc != nil {
			persistent = svc.Persistent()
		}
	}

	if _, err := s.reg.GetOrCreate(serviceID, persistent, s.user != nil); err != nil {
		if errors.Is(err, terminal.ErrCapacity) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	header := metadata.Pairs(MetadataServiceID, serviceID, MetadataPersistent, strconv.FormatBool(persistent))
	if err := stream.SendHeader(header); err != nil {
		return err
	}

	logger := s.logger.With("service", serviceID)
	logger.Info("controller attached", "persistent", persistent)
	proxy := terminal.NewProxy(s.reg, serviceID, &persistent, s.user)
	defer func() {
		proxy.OnDisconnect()
		logger.Info("controller detached")
	}()

	var sendMu sync.Mutex
	send := func(r terminal.Response) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return stream.SendMsg(&wire.ResponseFrame{Response: r})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			var frame wire.ActionFrame
			if err := stream.RecvMsg(&frame); err != nil {
				if errors.Is(err, io.EOF) {
					return errClientDone
				}
				return err
			}
			resp, err := proxy.HandleAction(gctx, frame.Action)
			if err != nil {
				logger.Warn("terminal action failed", "action", actionName(frame.Action), "err", err)
			}
			if resp == nil {
				continue
			}
			if err := send(resp); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			for _, r := range proxy.DrainOutputs() {
				if err := send(r); err != nil {
					return err
				}
			}
		}
	})

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, errClientDone):
		return nil
	case status.Code(err) == codes.Canceled || ctx.Err() != nil:
		return nil
	default:
		logger.Warn("attach stream ended", "err", err)
		return err
	}
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func actionName(a terminal.Action) string {
	switch a.(type) {
	case terminal.OpenAction:
		return "open"
	case terminal.ResizeAction:
		return "resize"
	case terminal.DataAction:
		return "data"
	case terminal.CloseAction:
		return "close"
	default:
		return "unknown"
	}
}
