package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Ning0612/drivewatch/internal/domain"
	"github.com/Ning0612/drivewatch/internal/logger"
)

const (
	// DefaultFlushTimeout bounds the wait for the server to confirm a
	// core NATS publish
	DefaultFlushTimeout = 5 * time.Second

	streamMaxAge = 7 * 24 * time.Hour
)

// NATSOptions configures the NATS publisher
type NATSOptions struct {
	URL string

	// Subject is the prefix; events go to <Subject>.<root id>
	Subject string

	// Stream, when set, publishes through JetStream into this stream and
	// waits for the ack. Otherwise core NATS is used and the connection is
	// flushed after each event.
	Stream string

	Logger logger.Logger
}

// publishFunc sends one message and returns once it is confirmed
type publishFunc func(ctx context.Context, msg *nats.Msg) error

// NATS publishes every event as JSON
type NATS struct {
	conn    *nats.Conn
	publish publishFunc
	subject string
	log     logger.Logger
}

// NewNATS connects to the server and prepares the stream if requested
func NewNATS(opts NATSOptions) (*NATS, error) {
	log := logger.OrNull(opts.Logger).With("component", "sink", "sink", "nats")

	nc, err := nats.Connect(opts.URL,
		nats.Name("drivewatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	publish := func(ctx context.Context, msg *nats.Msg) error {
		if err := nc.PublishMsg(msg); err != nil {
			return err
		}
		fctx, cancel := context.WithTimeout(ctx, DefaultFlushTimeout)
		defer cancel()
		return nc.FlushWithContext(fctx)
	}

	if opts.Stream != "" {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		_, err = js.AddStream(&nats.StreamConfig{
			Name:     opts.Stream,
			Subjects: []string{opts.Subject + ".>"},
			MaxAge:   streamMaxAge,
		})
		if err != nil {
			// Stream may already exist
			log.Warn("stream setup", "stream", opts.Stream, "error", err)
		}

		publish = func(ctx context.Context, msg *nats.Msg) error {
			_, err := js.PublishMsg(msg, nats.Context(ctx))
			return err
		}
	}

	n := newNATS(publish, opts.Subject, log)
	n.conn = nc
	return n, nil
}

func newNATS(publish publishFunc, subject string, log logger.Logger) *NATS {
	return &NATS{
		publish: publish,
		subject: subject,
		log:     logger.OrNull(log),
	}
}

// Name returns the sink name
func (n *NATS) Name() string {
	return "nats"
}

// Subject returns the subject events for rootID are published on
func (n *NATS) Subject(rootID string) string {
	return n.subject + "." + subjectToken(rootID)
}

// Handle publishes the event
func (n *NATS) Handle(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := nats.NewMsg(n.Subject(event.FolderID))
	msg.Data = data
	// Redelivered events carry the same id so JetStream can drop duplicates
	msg.Header.Set(nats.MsgIdHdr, MessageID(event))
	msg.Header.Set("Drivewatch-Event-Type", string(event.Type))

	if err := n.publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.FileID, err)
	}

	n.log.Debug("published event", "subject", msg.Subject, "file_id", event.FileID)
	return nil
}

// Close drains the connection
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Flush(); err != nil {
		n.log.Warn("flush on close failed", "error", err)
	}
	n.conn.Close()
	return nil
}

// MessageID identifies one version of one file
func MessageID(event domain.ChangeEvent) string {
	return event.FileID + "@" + event.FileModifiedAt.UTC().Format(time.RFC3339Nano)
}

// subjectToken makes s safe as a single subject token
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
