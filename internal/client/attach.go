package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/antonkrylov/termhost/internal/remote"
	"github.com/antonkrylov/termhost/internal/terminal"
	"github.com/antonkrylov/termhost/internal/wire"
)

// AttachOptions selects the service to bind. An empty ServiceID lets the
// server allocate one; a nil Persistent keeps the service's current mode.
type AttachOptions struct {
	ServiceID  string
	Persistent *bool
}

// Session is one Attach stream. Send and Recv may be used from different
// goroutines.
type Session struct {
	stream     grpc.ClientStream
	serviceID  string
	persistent bool
	sendMu     sync.Mutex
}

// Attach opens the bidirectional terminal stream and waits for the header
// naming the bound service.
func Attach(ctx context.Context, cc grpc.ClientConnInterface, opts AttachOptions) (*Session, error) {
	var pairs []string
	if opts.ServiceID != "" {
		pairs = append(pairs, remote.MetadataServiceID, opts.ServiceID)
	}
	if opts.Persistent != nil {
		pairs = append(pairs, remote.MetadataPersistent, strconv.FormatBool(*opts.Persistent))
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	stream, err := cc.NewStream(ctx, &remote.AttachStreamDesc, remote.AttachMethod)
	if err != nil {
		return nil, err
	}
	header, err := stream.Header()
	if err != nil {
		return nil, err
	}
	s := &Session{stream: stream}
	if v := header.Get(remote.MetadataServiceID); len(v) > 0 {
		s.serviceID = v[0]
	}
	if s.serviceID == "" {
		// Header is empty when the server rejected the stream before sending it.
		if err := stream.RecvMsg(new(wire.ResponseFrame)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("attach: server did not report a service id")
	}
	if v := header.Get(remote.MetadataPersistent); len(v) > 0 {
		s.persistent, _ = strconv.ParseBool(v[0])
	}
	return s, nil
}

func (s *Session) ServiceID() string { return s.serviceID }
func (s *Session) Persistent() bool  { return s.persistent }

func (s *Session) Send(action terminal.Action) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.SendMsg(&wire.ActionFrame{Action: action})
}

func (s *Session) Recv() (terminal.Response, error) {
	frame := new(wire.ResponseFrame)
	if err := s.stream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return frame.Response, nil
}

func (s *Session) Open(id int32, rows, cols uint16) error {
	return s.Send(terminal.OpenAction{TerminalID: id, Rows: rows, Cols: cols})
}

func (s *Session) Write(id int32, data []byte) error {
	return s.Send(terminal.DataAction{TerminalID: id, Data: data})
}

func (s *Session) Resize(id int32, rows, cols uint16) error {
	return s.Send(terminal.ResizeAction{TerminalID: id, Rows: rows, Cols: cols})
}

func (s *Session) Close(id int32) error {
	return s.Send(terminal.CloseAction{TerminalID: id})
}

// CloseSend half-closes the stream. The server treats it as a disconnect.
func (s *Session) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.CloseSend()
}
