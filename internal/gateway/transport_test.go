package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-gateway/internal/config"
	"github.com/wallet-gateway/internal/types"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func newTestLink(t *testing.T) (*Link, *recordingHandler, net.Conn, context.CancelFunc) {
	t.Helper()

	handler := &recordingHandler{}
	link := NewLink(&config.TransportConfig{Addr: "unused"}, handler)

	gatewaySide, serverSide := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = link.serve(ctx, gatewaySide) // nolint:errcheck // exits on cancel
	}()
	t.Cleanup(func() {
		cancel()
		_ = serverSide.Close() // nolint:errcheck
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not stop")
		}
	})

	// Wait until serve has registered the connection so callers can send
	// immediately without racing link startup.
	require.Eventually(t, func() bool {
		link.mu.Lock()
		defer link.mu.Unlock()
		return link.conn != nil
	}, 5*time.Second, time.Millisecond)

	return link, handler, serverSide, cancel
}

func TestLinkDispatchesInboundFrames(t *testing.T) {
	_, handler, serverSide, _ := newTestLink(t)

	_, err := serverSide.Write([]byte(
		`{"id":"ev1","type":"message","from":"alice@example.org/home","to":"wallet.localhost","body":"help"}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(handler.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	ev := handler.snapshot()[0]
	assert.Equal(t, "ev1", ev.ID)
	assert.Equal(t, types.EventMessage, ev.Type)
	assert.Equal(t, types.Identity("alice@example.org/home"), ev.From)
	assert.Equal(t, types.Identifier("wallet.localhost"), ev.To)
	assert.Equal(t, "help", ev.Body)
}

func TestLinkWritesOutboundFrames(t *testing.T) {
	link, _, serverSide, _ := newTestLink(t)

	reader := bufio.NewReader(serverSide)
	errCh := make(chan error, 1)
	go func() {
		errCh <- link.SendPresence(context.Background(),
			"alice@example.org", "wallet.localhost", types.PresenceAvailable, "Balance: 42")
	}()

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	var f frame
	require.NoError(t, json.Unmarshal([]byte(line), &f))
	assert.Equal(t, "presence", f.Type)
	assert.Equal(t, "wallet.localhost", f.From)
	assert.Equal(t, "alice@example.org", f.To)
	assert.Equal(t, "available", f.Presence)
	assert.Equal(t, "Balance: 42", f.Status)
}

func TestLinkRefusesWritesWhenDown(t *testing.T) {
	link := NewLink(&config.TransportConfig{Addr: "unused"}, &recordingHandler{})
	err := link.SendMessage(context.Background(), "alice@example.org", "wallet.localhost", "hello")
	assert.Error(t, err)
}
