package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// TCPTransport is the reference Transport (spec.md §4.G) over stdlib
// net.Conn, framing each message with a 4-byte big-endian length
// prefix since a raw TCP stream does not natively delimit messages.
// It replaces the teacher's libp2p host/stream stack: spec.md §1 and
// §4.G keep the core transport-agnostic, so cubenet ships its own
// from-scratch stream and websocket transports rather than wiring
// libp2p directly.
type TCPTransport struct {
	mu        sync.Mutex
	conn      net.Conn
	onMessage func([]byte)
	onClosed  func()
	started   bool
	closeOnce sync.Once
}

// NewTCPTransport creates a transport for an outbound dial.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

// NewTCPTransportFromConn wraps an already-accepted inbound connection.
func NewTCPTransportFromConn(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

func (t *TCPTransport) Open(ctx context.Context, addr Address) error {
	t.mu.Lock()
	connected := t.conn != nil
	t.mu.Unlock()
	if connected {
		return nil
	}
	if addr.Kind != AddressTCP {
		return fmt.Errorf("%w: TCPTransport requires an AddressTCP, got kind %d", ErrAddress, addr.Kind)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.maybeStart()
	return nil
}

func (t *TCPTransport) SetHandlers(onMessage func([]byte), onClosed func()) {
	t.mu.Lock()
	t.onMessage = onMessage
	t.onClosed = onClosed
	t.mu.Unlock()
	t.maybeStart()
}

func (t *TCPTransport) maybeStart() {
	t.mu.Lock()
	if t.started || t.conn == nil || t.onMessage == nil || t.onClosed == nil {
		t.mu.Unlock()
		return
	}
	t.started = true
	conn := t.conn
	t.mu.Unlock()
	go t.readLoop(conn)
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer t.Close()
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > MaxMessageSize {
			logrus.WithError(fmt.Errorf("%w: frame length %d exceeds %d", ErrBinaryLength, n, MaxMessageSize)).
				Warn("tcptransport: rejecting oversized frame, closing connection")
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
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

func (t *TCPTransport) Send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: send before Open", ErrNetwork)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

func (t *TCPTransport) Close() error {
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

func (t *TCPTransport) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}
