package client

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"

	"github.com/antonkrylov/termhost/internal/wire"
)

type DialSecurityMode int

const (
	DialInsecure DialSecurityMode = iota
	DialTLS
)

// Dial connects to termhostd. Every call defaults to the termwire codec.
func Dial(ctx context.Context, addr string, mode DialSecurityMode, dialOptions ...grpc.DialOption) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	switch mode {
	case DialTLS:
		creds = credentials.NewClientTLSFromCert(nil, "")
	default:
		creds = insecure.NewCredentials()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
			grpc.CallContentSubtype(wire.CodecName),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			// Some servers enforce a large MinTime and answer aggressive pings
			// with GOAWAY "too_many_pings".
			Time:                5 * time.Minute,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  250 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   5 * time.Second,
			},
			MinConnectTimeout: 10 * time.Second,
		}),
	}
	opts = append(opts, dialOptions...)

	return grpc.DialContext(ctx, addr, opts...)
}

// WithGzip compresses every request on the connection.
func WithGzip() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.UseCompressor(gzip.Name))
}
