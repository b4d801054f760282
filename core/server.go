package core

import (
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server binds a listen address, accepts inbound byte-streams, wraps
// each in the Transport abstraction, and hands the result to a
// NetworkManager (spec.md §4.J).
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	manager  *NetworkManager
	closed   bool
	log      *logrus.Logger
}

// ListenTCP binds addr (which must be AddressTCP) and begins accepting
// inbound connections in the background, handing each to manager.
func ListenTCP(addr Address, manager *NetworkManager) (*Server, error) {
	if addr.Kind != AddressTCP {
		return nil, fmt.Errorf("%w: ListenTCP requires an AddressTCP", ErrAddress)
	}
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	s := &Server{listener: ln, manager: manager, log: logrus.StandardLogger()}
	manager.AddServer(s)
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		transport := NewTCPTransportFromConn(conn)
		s.manager.NewInboundPeer(transport, host)
	}
}

// DialableAddress returns the address this Server can be reached at,
// if the listener exposes a concrete TCP address (spec.md §4.J).
func (s *Server) DialableAddress() (Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return Address{}, false
	}
	tcpAddr, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return Address{}, false
	}
	return TCPAddress(tcpAddr.IP.String(), uint16(tcpAddr.Port)), true
}

// Close stops accepting new connections. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// wsUpgrader holds buffer sizes for accepting inbound
// WebSocketTransport connections. It is unexported and UpgradeWebSocket
// does not use it (the caller supplies its own upgrade function);
// cubenet itself only ships the TCP listener above, since the HTTP
// routing layer that would host an upgrader belongs to an outer
// application (spec.md §1's higher app layers, out of scope).
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// UpgradeWebSocket calls upgrade to complete a websocket handshake
// (typically a closure over an http.ResponseWriter/Request pair) and
// hands the resulting connection to manager as an inbound peer.
// Exposed for embedders that run their own HTTP server; cubenet does
// not start one itself.
func UpgradeWebSocket(upgrade func() (*websocket.Conn, error), remoteHost string, manager *NetworkManager) error {
	conn, err := upgrade()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	transport := NewWebSocketTransportFromConn(conn)
	manager.NewInboundPeer(transport, remoteHost)
	return nil
}
