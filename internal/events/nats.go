package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSOptions describe where lifecycle events are published.
type NATSOptions struct {
	URL           string
	User          string
	Password      string
	SubjectPrefix string
	// Stream, when set, makes events durable in a JetStream stream bound to
	// SubjectPrefix.>.
	Stream     string
	MaxBytes   int64
	DupeWindow time.Duration
	Logger     *slog.Logger
}

func (o *NATSOptions) setDefaults() {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "termhost.events"
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 1 << 30
	}
	if o.DupeWindow == 0 {
		o.DupeWindow = 2 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// NATS publishes events as JSON to <prefix>.<kind>.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	opts   NATSOptions
	logger *slog.Logger
}

// NewNATS connects to NATS and, if a stream is configured, makes sure it exists.
func NewNATS(ctx context.Context, opts NATSOptions) (*NATS, error) {
	opts.setDefaults()
	natsOpts := []nats.Option{nats.Name("termhost")}
	if opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(opts.User, opts.Password))
	}
	conn, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	n := &NATS{conn: conn, opts: opts, logger: opts.Logger}
	if opts.Stream != "" {
		js, err := conn.JetStream(nats.Context(ctx))
		if err != nil {
			conn.Close()
			return nil, err
		}
		n.js = js
		if err := n.ensureStream(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ensure stream %s: %w", opts.Stream, err)
		}
	}
	return n, nil
}

func (n *NATS) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       n.opts.Stream,
		Subjects:   []string{n.opts.SubjectPrefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   n.opts.MaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: n.opts.DupeWindow,
	}
	if _, err := n.js.StreamInfo(cfg.Name); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := n.js.AddStream(cfg)
			return addErr
		}
		return err
	}
	_, err := n.js.UpdateStream(cfg)
	return err
}

// Subject returns the subject an event of the given kind is published on.
func (n *NATS) Subject(kind Kind) string {
	return Subject(n.opts.SubjectPrefix, kind)
}

// Subject joins a subject prefix and an event kind.
func Subject(prefix string, kind Kind) string {
	return prefix + "." + string(kind)
}

func (n *NATS) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("encode event", "kind", ev.Kind, "err", err)
		return
	}
	subject := n.Subject(ev.Kind)
	if n.js != nil {
		msgID := fmt.Sprintf("%s:%s:%d:%d", ev.Kind, ev.ServiceID, ev.TerminalID, ev.Time.UnixNano())
		if _, err := n.js.PublishAsync(subject, payload, nats.MsgId(msgID)); err != nil {
			n.logger.Error("jetstream publish event", "subject", subject, "err", err)
		}
		return
	}
	if err := n.conn.Publish(subject, payload); err != nil {
		n.logger.Error("nats publish event", "subject", subject, "err", err)
	}
}

// Close flushes pending publishes and closes the connection.
func (n *NATS) Close() {
	if n.conn == nil {
		return
	}
	_ = n.conn.Drain()
	n.conn.Close()
}
