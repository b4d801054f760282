package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketTransport is the layered-transport reference Transport of
// spec.md §4.G over github.com/gorilla/websocket. Unlike TCPTransport,
// websocket frames are natively message-delimited, so no length prefix
// is added.
type WebSocketTransport struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	onMessage func([]byte)
	onClosed  func()
	started   bool
	closeOnce sync.Once
}

// NewWebSocketTransport creates a transport for an outbound dial.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{}
}

// NewWebSocketTransportFromConn wraps an already-upgraded inbound
// connection (e.g. from an http.Handler using websocket.Upgrader).
func NewWebSocketTransportFromConn(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

func (t *WebSocketTransport) Open(ctx context.Context, addr Address) error {
	t.mu.Lock()
	connected := t.conn != nil
	t.mu.Unlock()
	if connected {
		return nil
	}
	if addr.Kind != AddressWebSocket {
		return fmt.Errorf("%w: WebSocketTransport requires an AddressWebSocket, got kind %d", ErrAddress, addr.Kind)
	}
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, addr.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.maybeStart()
	return nil
}

func (t *WebSocketTransport) SetHandlers(onMessage func([]byte), onClosed func()) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onClosed = onClosed
	t.mu.Unlock()
	t.maybeStart()
}

func (t *WebSocketTransport) maybeStart() {
	t.mu.Lock()
	if t.started || t.conn == nil || t.onMessage == nil || t.onClosed == nil {
		t.mu.Unlock()
		return
	}
	t.started = true
	conn := t.conn
	t.mu.Unlock()
	conn.SetReadLimit(MaxMessageSize)
	go t.readLoop(conn)
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	defer t.Close()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		t.mu.Lock()
		onMessage := t.onMessage
		t.mu.Unlock()
		if onMessage != nil {
			onMessage(payload)
		}
	}
}

func (t *WebSocketTransport) Send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: send before Open", ErrNetwork)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	onClosed := t.onClosed
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.closeOnce.Do(func() {
		if onClosed != nil {
			onClosed()
		}
	})
	return nil
}

func (t *WebSocketTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
