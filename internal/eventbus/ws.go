package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/agentctl/internal/agentlog"
)

// WSBroadcaster is an http.Handler that upgrades connections to WebSocket
// and mirrors every bus Event to every connected client, grounded on the
// teacher's internal/ws/client.go write-loop conventions (JSON envelopes,
// a write timeout per message).
type WSBroadcaster struct {
	bus *Bus

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	unsub Unsubscribe
}

const wsWriteTimeout = 10 * time.Second

// NewWSBroadcaster subscribes to bus and returns a handler ready to mount on
// an HTTP server (the HTTP server itself is out of core scope per spec §1;
// this type only implements http.Handler so an external controller can use
// it without the core depending on any particular router).
func NewWSBroadcaster(bus *Bus) *WSBroadcaster {
	b := &WSBroadcaster{bus: bus, clients: make(map[*websocket.Conn]struct{})}
	b.unsub = bus.Subscribe(b.broadcast)
	return b
}

func (b *WSBroadcaster) Close() {
	b.unsub()
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		c.Close(websocket.StatusNormalClosure, "shutting down")
	}
	b.clients = nil
}

func (b *WSBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		agentlog.Warn("eventbus: ws accept failed", "error", err)
		return
	}
	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		b.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Drain the read side so the client's ping/close frames are honored;
	// this endpoint is output-only from the server's perspective.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (b *WSBroadcaster) broadcast(ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			agentlog.Warn("eventbus: ws write failed", "error", err)
		}
	}
}
