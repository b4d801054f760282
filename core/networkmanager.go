package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NetworkManager is the fleet orchestrator of spec.md §4.I: it owns
// the host's own identity, every Server and NetworkPeer, and the
// reconnect loop that keeps outbound connection count topped up from
// PeerDB candidates.
type NetworkManager struct {
	mu sync.Mutex

	selfID              PeerID
	store               *CubeStore
	peerDB              *PeerDB
	metrics             *Metrics
	lightNode           bool
	peerExchangeEnabled bool
	myServerAddress     *Address
	maxConnections      int

	servers  []*Server
	incoming []*NetworkPeer
	outgoing []*NetworkPeer

	connecting   bool
	shuttingDown bool
	connectTimer *time.Timer

	closedBus   *eventBus[*NetworkPeer]
	shutdownBus *eventBus[struct{}]
	newPeerSub  listenerID

	log *logrus.Logger
}

// NetworkManagerOptions configures a NetworkManager at construction.
type NetworkManagerOptions struct {
	LightNode           bool
	PeerExchangeEnabled bool
	MyServerAddress     *Address
	// MaxConnections caps total (incoming + outgoing) connections. Zero
	// falls back to MaximumConnections.
	MaxConnections int
}

// NewNetworkManager creates a NetworkManager with a fresh random
// identity, wired to store and peerDB.
func NewNetworkManager(store *CubeStore, peerDB *PeerDB, opts NetworkManagerOptions) (*NetworkManager, error) {
	id, err := NewPeerID()
	if err != nil {
		return nil, err
	}
	maxConnections := opts.MaxConnections
	if maxConnections <= 0 {
		maxConnections = MaximumConnections
	}
	nm := &NetworkManager{
		selfID:              id,
		store:               store,
		peerDB:              peerDB,
		metrics:             NewMetrics(),
		lightNode:           opts.LightNode,
		peerExchangeEnabled: opts.PeerExchangeEnabled,
		myServerAddress:     opts.MyServerAddress,
		maxConnections:      maxConnections,
		closedBus:           newEventBus[*NetworkPeer](),
		shutdownBus:         newEventBus[struct{}](),
		log:                 logrus.StandardLogger(),
	}
	nm.newPeerSub = peerDB.SubscribeNewPeer(func(*Peer) { nm.connectPeers() })
	return nm, nil
}

// SelfID returns this host's own stable-for-process-lifetime peer id.
func (nm *NetworkManager) SelfID() PeerID { return nm.selfID }

// Metrics returns the manager's prometheus collectors.
func (nm *NetworkManager) Metrics() *Metrics { return nm.metrics }

// SubscribePeerClosed registers fn against the peer_closed event.
func (nm *NetworkManager) SubscribePeerClosed(fn func(*NetworkPeer)) listenerID {
	return nm.closedBus.Subscribe(fn)
}

// SubscribeShutdown registers fn against the shutdown event.
func (nm *NetworkManager) SubscribeShutdown(fn func(struct{})) listenerID {
	return nm.shutdownBus.Subscribe(fn)
}

// AddServer registers a Server this manager owns; its inbound streams
// are routed through NewInboundPeer.
func (nm *NetworkManager) AddServer(s *Server) {
	nm.mu.Lock()
	nm.servers = append(nm.servers, s)
	nm.mu.Unlock()
}

// NewInboundPeer wraps an already-accepted transport into a
// NetworkPeer, registers it, and starts its handshake. Called by
// Server's accept loop.
func (nm *NetworkManager) NewInboundPeer(transport Transport, remoteHost string) *NetworkPeer {
	np := NewNetworkPeer(transport, nm.store, nm.peerDB, nm.selfID, NetworkPeerOptions{
		LightNode:           nm.lightNode,
		PeerExchangeEnabled: nm.peerExchangeEnabled,
		MyServerAddress:     nm.myServerAddress,
		RemoteHost:          remoteHost,
		OnOnline:            nm.onPeerOnline,
		OnClosed:            nm.onPeerClosed,
	})
	nm.mu.Lock()
	nm.incoming = append(nm.incoming, np)
	nm.mu.Unlock()
	nm.metrics.ConnectionsTotal.WithLabelValues("inbound").Inc()
	nm.metrics.ConnectionsCurrent.Inc()
	_ = np.Start(context.Background(), nil)
	return np
}

func transportForAddress(addr Address) (Transport, error) {
	switch addr.Kind {
	case AddressTCP:
		return NewTCPTransport(), nil
	case AddressWebSocket:
		return NewWebSocketTransport(), nil
	default:
		return nil, fmt.Errorf("%w: no transport implementation for address kind %d", ErrAddress, addr.Kind)
	}
}

// connectPeers implements spec.md §4.I's reconnect loop: if under the
// connection cap, ask PeerDB for a candidate and dial it; otherwise
// (or if none is eligible yet) re-arm for later. It is a no-op while
// shutting down or while a previous invocation is still running.
func (nm *NetworkManager) connectPeers() {
	nm.mu.Lock()
	if nm.shuttingDown || nm.connecting {
		nm.mu.Unlock()
		return
	}
	nm.connecting = true
	total := len(nm.incoming) + len(nm.outgoing)
	connected := make([]*Peer, 0, total)
	for _, p := range nm.incoming {
		if pr := p.Peer(); pr != nil {
			connected = append(connected, pr)
		}
	}
	for _, p := range nm.outgoing {
		if pr := p.Peer(); pr != nil {
			connected = append(connected, pr)
		}
	}
	nm.mu.Unlock()

	defer func() {
		nm.mu.Lock()
		nm.connecting = false
		nm.mu.Unlock()
	}()

	if total >= nm.maxConnections {
		nm.armConnectTimer(ReconnectInterval)
		return
	}

	candidate := nm.peerDB.Select(connected)
	if candidate == nil {
		nm.armConnectTimer(ReconnectInterval)
		return
	}
	addr, ok := candidate.PrimaryAddress()
	if !ok {
		nm.armConnectTimer(ReconnectInterval)
		return
	}
	candidate.LastConnectAttempt = time.Now()
	candidate.AttemptCount++
	go nm.dial(candidate, addr)
	nm.armConnectTimer(NewPeerInterval)
}

func (nm *NetworkManager) armConnectTimer(d time.Duration) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if nm.shuttingDown {
		return
	}
	if nm.connectTimer != nil {
		nm.connectTimer.Stop()
	}
	nm.connectTimer = time.AfterFunc(d, nm.connectPeers)
}

func (nm *NetworkManager) dial(candidate *Peer, addr Address) {
	transport, err := transportForAddress(addr)
	if err != nil {
		nm.metrics.ConnectionsTotal.WithLabelValues("error").Inc()
		return
	}
	np := NewNetworkPeer(transport, nm.store, nm.peerDB, nm.selfID, NetworkPeerOptions{
		LightNode:           nm.lightNode,
		PeerExchangeEnabled: nm.peerExchangeEnabled,
		MyServerAddress:     nm.myServerAddress,
		OnOnline:            nm.onPeerOnline,
		OnClosed:            nm.onPeerClosed,
	})
	np.SetPeer(candidate)

	ctx, cancel := context.WithTimeout(context.Background(), NetworkTimeout)
	defer cancel()
	if err := np.Start(ctx, &addr); err != nil {
		nm.log.WithError(err).WithField("address", addr.String()).Debug("networkmanager: dial failed")
		nm.metrics.ConnectionsTotal.WithLabelValues("error").Inc()
		return
	}

	nm.mu.Lock()
	nm.outgoing = append(nm.outgoing, np)
	nm.mu.Unlock()
	nm.metrics.ConnectionsTotal.WithLabelValues("outbound").Inc()
	nm.metrics.ConnectionsCurrent.Inc()
}

func (nm *NetworkManager) allPeersLocked() []*NetworkPeer {
	out := make([]*NetworkPeer, 0, len(nm.incoming)+len(nm.outgoing))
	out = append(out, nm.incoming...)
	out = append(out, nm.outgoing...)
	return out
}

// onPeerOnline implements spec.md §4.I's peer_online handling:
// self-connection blacklisting, duplicate-connection merging, and
// otherwise verifying the peer and eagerly kicking the protocol.
func (nm *NetworkManager) onPeerOnline(np *NetworkPeer) {
	remoteID, _ := np.RemoteID()

	if remoteID == nm.selfID {
		if p := np.Peer(); p != nil {
			nm.peerDB.Blacklist(p)
		}
		np.Close()
		return
	}

	nm.mu.Lock()
	var dup *NetworkPeer
	for _, other := range nm.allPeersLocked() {
		if other == np {
			continue
		}
		if id, ok := other.RemoteID(); ok && id == remoteID {
			dup = other
			break
		}
	}
	nm.mu.Unlock()

	if dup != nil {
		if original := dup.Peer(); original != nil {
			if extra := np.Peer(); extra != nil {
				for _, a := range extra.Addresses {
					original.AddAddress(a)
				}
			}
		}
		np.Close()
		return
	}

	if p := np.Peer(); p != nil {
		nm.peerDB.VerifyPeer(p, remoteID)
	}
	np.send(encodeKeyRequest())
	np.send(encodeNodeRequest())
}

func (nm *NetworkManager) onPeerClosed(np *NetworkPeer) {
	nm.metrics.ObservePeer(np.Counters())
	nm.metrics.ConnectionsCurrent.Dec()

	nm.mu.Lock()
	nm.incoming = removeNetworkPeer(nm.incoming, np)
	nm.outgoing = removeNetworkPeer(nm.outgoing, np)
	nm.mu.Unlock()

	nm.closedBus.Publish(np)
	nm.connectPeers()
}

func removeNetworkPeer(list []*NetworkPeer, target *NetworkPeer) []*NetworkPeer {
	out := list[:0]
	for _, p := range list {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

// Shutdown stops the reconnect loop, closes every server and peer, and
// emits the shutdown event. Idempotent.
func (nm *NetworkManager) Shutdown() {
	nm.mu.Lock()
	if nm.shuttingDown {
		nm.mu.Unlock()
		return
	}
	nm.shuttingDown = true
	if nm.connectTimer != nil {
		nm.connectTimer.Stop()
	}
	nm.peerDB.UnsubscribeNewPeer(nm.newPeerSub)
	servers := append([]*Server(nil), nm.servers...)
	peers := nm.allPeersLocked()
	nm.mu.Unlock()

	for _, s := range servers {
		s.Close()
	}
	for _, p := range peers {
		p.Close()
	}
	nm.shutdownBus.Publish(struct{}{})
}
