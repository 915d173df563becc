package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wallet-gateway/internal/config"
	"github.com/wallet-gateway/internal/logging"
	"github.com/wallet-gateway/internal/types"
)

// Handler consumes inbound transport events.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// frame is the wire shape of one transport message, newline-delimited JSON
// in both directions.
type frame struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Body     string `json:"body,omitempty"`
	Presence string `json:"presence,omitempty"`
	Status   string `json:"status,omitempty"`
	Username string `json:"username,omitempty"`
}

// Link maintains the connection to the messaging server. It dials out the
// way a component attaches to its server, feeds inbound frames to the
// handler one at a time, and implements Sink for outbound traffic.
type Link struct {
	addr           string
	handler        Handler
	dialTimeout    time.Duration
	reconnectDelay time.Duration

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Link)(nil)

// NewLink creates a new transport link
func NewLink(cfg *config.TransportConfig, handler Handler) *Link {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Link{
		addr:           cfg.Addr,
		handler:        handler,
		dialTimeout:    dialTimeout,
		reconnectDelay: reconnectDelay,
	}
}

// Run connects to the messaging server and processes inbound frames until
// ctx is cancelled. Lost connections are redialed after the reconnect delay.
func (l *Link) Run(ctx context.Context) error {
	log := logging.FromContext(ctx).WithField("addr", l.addr)

	for {
		conn, err := net.DialTimeout("tcp", l.addr, l.dialTimeout)
		if err != nil {
			log.WithError(err).Warn("failed to connect to messaging server, retrying")
		} else {
			log.Info("connected to messaging server")
			if err := l.serve(ctx, conn); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("messaging server connection lost")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.reconnectDelay):
		}
	}
}

// serve reads frames off one connection and dispatches them in order.
func (l *Link) serve(ctx context.Context, conn net.Conn) error {
	l.setConn(conn)
	defer func() {
		l.setConn(nil)
		_ = conn.Close() // nolint:errcheck // cleanup in defer
	}()

	// Unblock the decoder when the caller shuts down.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close() // nolint:errcheck
	})
	defer stop()

	dec := json.NewDecoder(conn)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to decode inbound frame: %w", err)
		}
		l.handler.Handle(ctx, eventFromFrame(f))
	}
}

func (l *Link) setConn(conn net.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

// SendMessage writes a chat message frame to the messaging server.
func (l *Link) SendMessage(_ context.Context, to types.Identity, from types.Identifier, body string) error {
	return l.writeFrame(frame{
		Type: string(types.EventMessage),
		From: string(from),
		To:   string(to),
		Body: body,
	})
}

// SendPresence writes a presence frame to the messaging server.
func (l *Link) SendPresence(_ context.Context, to types.Identity, from types.Identifier, presence types.PresenceType, status string) error {
	return l.writeFrame(frame{
		Type:     string(types.EventPresence),
		From:     string(from),
		To:       string(to),
		Presence: string(presence),
		Status:   status,
	})
}

func (l *Link) writeFrame(f frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return fmt.Errorf("messaging server link is down")
	}

	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode outbound frame: %w", err)
	}
	if _, err := l.conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to write outbound frame: %w", err)
	}
	return nil
}

func eventFromFrame(f frame) Event {
	return Event{
		ID:       f.ID,
		Type:     types.EventType(f.Type),
		From:     types.Identity(f.From),
		To:       types.Identifier(f.To),
		Body:     f.Body,
		Presence: types.PresenceType(f.Presence),
		Username: f.Username,
	}
}
