package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PeerState is a state in the NetworkPeer protocol machine of
// spec.md §4.H: Opening → Open → Online → Closing → Closed.
type PeerState uint8

const (
	StateOpening PeerState = iota
	StateOpen
	StateOnline
	StateClosing
	StateClosed
)

func (s PeerState) String() string {
	switch s {
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateOnline:
		return "Online"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Counters tracks per-peer tx/rx totals for observability (spec.md §4.H).
type Counters struct {
	TxMessages uint64
	TxBytes    uint64
	RxMessages uint64
	RxBytes    uint64
	TxByClass  map[MessageClass]uint64
	RxByClass  map[MessageClass]uint64
}

// NetworkPeer drives one remote conversation: HELLO handshake, key and
// cube inventory exchange, peer exchange, and cube subscriptions, atop
// an opaque Transport (spec.md §4.H). Unlike the source's
// single-threaded cooperative model (spec.md §5), each NetworkPeer
// here runs its transport callbacks directly; the transport guarantees
// in-order, non-concurrent delivery per connection (see TCPTransport
// and WebSocketTransport's single reader goroutine), which preserves
// the spec's "messages from the transport are delivered and handled
// in receipt order" within one peer.
type NetworkPeer struct {
	mu        sync.Mutex
	connID    string // random diagnostic id, distinguishes log lines across concurrent connections
	state     PeerState
	transport Transport
	store     *CubeStore
	peerDB    *PeerDB
	selfID    PeerID
	remoteID  PeerID
	hasRemote bool

	lightNode           bool
	peerExchangeEnabled bool
	myServerAddress     *Address
	remoteHost          string // observed remote IP, for MyServerAddress's "::" substitution

	peer *Peer // this remote's PeerDB record, set by the owner once resolved

	onOnline func(*NetworkPeer)
	onClosed func(*NetworkPeer)

	unsentInventoryMu sync.Mutex
	unsentInventory   []CubeMeta
	cubeAddedSub      listenerID
	hasCubeAddedSub   bool

	unsentPeersMu sync.Mutex
	unsentPeers   []*Peer
	exchSub       listenerID
	hasExchSub    bool

	subsMu sync.Mutex
	subs   map[[CubeKeySize]byte]time.Time

	helloTimer        *time.Timer
	nodeRequestTicker *time.Ticker
	keyRequestTicker  *time.Ticker
	tickerStop        chan struct{}

	countersMu sync.Mutex
	counters   Counters

	closeOnce sync.Once
	log       *logrus.Logger
}

// NetworkPeerOptions configures a NetworkPeer at construction.
type NetworkPeerOptions struct {
	LightNode           bool
	PeerExchangeEnabled bool
	MyServerAddress     *Address
	RemoteHost          string
	OnOnline            func(*NetworkPeer)
	OnClosed            func(*NetworkPeer)
}

// NewNetworkPeer constructs a NetworkPeer over transport, wiring its
// handlers immediately.
func NewNetworkPeer(transport Transport, store *CubeStore, peerDB *PeerDB, selfID PeerID, opts NetworkPeerOptions) *NetworkPeer {
	np := &NetworkPeer{
		connID:              uuid.NewString(),
		state:               StateOpening,
		transport:           transport,
		store:               store,
		peerDB:              peerDB,
		selfID:              selfID,
		lightNode:           opts.LightNode,
		peerExchangeEnabled: opts.PeerExchangeEnabled,
		myServerAddress:     opts.MyServerAddress,
		remoteHost:          opts.RemoteHost,
		onOnline:            opts.OnOnline,
		onClosed:            opts.OnClosed,
		subs:                make(map[[CubeKeySize]byte]time.Time),
		tickerStop:          make(chan struct{}),
		log:                 logrus.StandardLogger(),
	}
	np.transport.SetHandlers(np.handleRawMessage, np.handleTransportClosed)
	return np
}

// SetPeer attaches the PeerDB record this NetworkPeer speaks for, once
// the owner has resolved or created one.
func (np *NetworkPeer) SetPeer(p *Peer) {
	np.mu.Lock()
	np.peer = p
	np.mu.Unlock()
}

// State returns the current protocol state.
func (np *NetworkPeer) State() PeerState {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.state
}

// RemoteID returns the remote's Hello id, if received.
func (np *NetworkPeer) RemoteID() (PeerID, bool) {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.remoteID, np.hasRemote
}

// Peer returns the PeerDB record this NetworkPeer speaks for, if any.
func (np *NetworkPeer) Peer() *Peer {
	np.mu.Lock()
	defer np.mu.Unlock()
	return np.peer
}

// Counters returns a copy of the current tx/rx counters.
func (np *NetworkPeer) Counters() Counters {
	np.countersMu.Lock()
	defer np.countersMu.Unlock()
	c := np.counters
	c.TxByClass = make(map[MessageClass]uint64, len(np.counters.TxByClass))
	for k, v := range np.counters.TxByClass {
		c.TxByClass[k] = v
	}
	c.RxByClass = make(map[MessageClass]uint64, len(np.counters.RxByClass))
	for k, v := range np.counters.RxByClass {
		c.RxByClass[k] = v
	}
	return c
}

// Start begins the handshake. For an outbound connection pass addr to
// dial; for an already-connected inbound stream pass nil.
func (np *NetworkPeer) Start(ctx context.Context, addr *Address) error {
	if addr != nil {
		dialCtx, cancel := context.WithTimeout(ctx, NetworkTimeout)
		defer cancel()
		if err := np.transport.Open(dialCtx, *addr); err != nil {
			np.transitionToClosing()
			return err
		}
	}
	np.transitionToOpen()
	return nil
}

func (np *NetworkPeer) transitionToOpen() {
	np.mu.Lock()
	if np.state != StateOpening {
		np.mu.Unlock()
		return
	}
	np.state = StateOpen
	np.mu.Unlock()

	np.send(encodeHello(np.selfID))
	np.mu.Lock()
	np.helloTimer = time.AfterFunc(HelloTimeout, func() {
		np.log.WithField("conn", np.connID).Debug("networkpeer: hello timeout")
		np.transitionToClosing()
	})
	np.mu.Unlock()
}

func (np *NetworkPeer) transitionToOnline(remoteID PeerID) {
	np.mu.Lock()
	if np.state == StateOnline {
		np.mu.Unlock()
		return
	}
	np.state = StateOnline
	np.remoteID = remoteID
	np.hasRemote = true
	if np.helloTimer != nil {
		np.helloTimer.Stop()
	}
	np.mu.Unlock()

	np.unsentInventoryMu.Lock()
	np.unsentInventory = np.store.AllMeta()
	np.unsentInventoryMu.Unlock()
	np.cubeAddedSub = np.store.SubscribeCubeAdded(np.onCubeAdded)
	np.hasCubeAddedSub = true

	if np.peerExchangeEnabled {
		np.seedUnsentPeers()
		np.exchSub = np.peerDB.SubscribeExchangeablePeer(np.onExchangeablePeer)
		np.hasExchSub = true
	}

	if np.onOnline != nil {
		np.onOnline(np)
	}
	if np.myServerAddress != nil {
		np.send(encodeMyServerAddress(*np.myServerAddress))
	}

	np.nodeRequestTicker = time.NewTicker(NodeRequestInterval)
	go np.runTicker(np.nodeRequestTicker, func() { np.send(encodeNodeRequest()) })
	if !np.lightNode {
		np.keyRequestTicker = time.NewTicker(KeyRequestInterval)
		go np.runTicker(np.keyRequestTicker, func() { np.send(encodeKeyRequest()) })
	}
}

func (np *NetworkPeer) runTicker(t *time.Ticker, fn func()) {
	for {
		select {
		case <-t.C:
			fn()
		case <-np.tickerStop:
			return
		}
	}
}

func (np *NetworkPeer) transitionToClosing() {
	np.mu.Lock()
	if np.state == StateClosing || np.state == StateClosed {
		np.mu.Unlock()
		return
	}
	np.state = StateClosing
	np.mu.Unlock()
	_ = np.transport.Close()
}

func (np *NetworkPeer) handleTransportClosed() {
	np.mu.Lock()
	if np.state == StateClosed {
		np.mu.Unlock()
		return
	}
	np.state = StateClosed
	helloTimer := np.helloTimer
	np.mu.Unlock()

	if helloTimer != nil {
		helloTimer.Stop()
	}
	close(np.tickerStop)
	if np.nodeRequestTicker != nil {
		np.nodeRequestTicker.Stop()
	}
	if np.keyRequestTicker != nil {
		np.keyRequestTicker.Stop()
	}
	if np.hasCubeAddedSub {
		np.store.UnsubscribeCubeAdded(np.cubeAddedSub)
	}
	if np.hasExchSub {
		np.peerDB.UnsubscribeExchangeablePeer(np.exchSub)
	}
	np.closeOnce.Do(func() {
		if np.onClosed != nil {
			np.onClosed(np)
		}
	})
}

// Close tears the connection down from the owner's side. Idempotent.
func (np *NetworkPeer) Close() {
	np.transitionToClosing()
}

func (np *NetworkPeer) send(payload []byte) {
	if len(payload) < 2 {
		return
	}
	class := MessageClass(payload[1])
	if err := np.transport.Send(payload); err != nil {
		np.log.WithError(err).Debug("networkpeer: send failed")
		return
	}
	np.countersMu.Lock()
	np.counters.TxMessages++
	np.counters.TxBytes += uint64(len(payload))
	if np.counters.TxByClass == nil {
		np.counters.TxByClass = make(map[MessageClass]uint64)
	}
	np.counters.TxByClass[class]++
	np.countersMu.Unlock()
}

func (np *NetworkPeer) handleRawMessage(raw []byte) {
	msg, err := decodeMessage(raw)
	if err != nil {
		np.log.WithError(err).WithField("conn", np.connID).Debug("networkpeer: dropping malformed frame")
		return
	}

	np.countersMu.Lock()
	np.counters.RxMessages++
	np.counters.RxBytes += uint64(len(raw))
	if np.counters.RxByClass == nil {
		np.counters.RxByClass = make(map[MessageClass]uint64)
	}
	np.counters.RxByClass[msg.Class]++
	np.countersMu.Unlock()

	state := np.State()

	if msg.Class == MessageHello {
		np.handleHello(msg.Payload, state)
		return
	}

	switch state {
	case StateOpen:
		// Only Hello is expected before Online; anything else is ignored.
	case StateOnline:
		np.dispatchOnline(msg)
	default:
		// Opening/Closing/Closed: no message processing.
	}
}

func (np *NetworkPeer) handleHello(payload []byte, state PeerState) {
	id, err := decodeHello(payload)
	if err != nil {
		np.log.WithError(err).Debug("networkpeer: malformed hello")
		np.transitionToClosing()
		return
	}
	switch state {
	case StateOpen:
		np.transitionToOnline(id)
	case StateOnline:
		np.mu.Lock()
		same := np.hasRemote && np.remoteID == id
		np.mu.Unlock()
		if !same {
			np.log.Debug("networkpeer: re-hello with a different id, closing")
			np.transitionToClosing()
		}
	default:
		np.transitionToClosing()
	}
}

func (np *NetworkPeer) dispatchOnline(msg message) {
	switch msg.Class {
	case MessageKeyRequest:
		np.handleKeyRequest()
	case MessageKeyResponse:
		metas, err := decodeKeyResponse(msg.Payload)
		if err != nil {
			np.log.WithError(err).Debug("networkpeer: malformed KeyResponse")
			return
		}
		np.handleKeyResponse(metas)
	case MessageCubeRequest:
		keys, err := decodeCubeRequest(msg.Payload)
		if err != nil {
			np.log.WithError(err).Debug("networkpeer: malformed CubeRequest")
			return
		}
		np.handleCubeRequest(keys)
	case MessageCubeResponse:
		bins, err := decodeCubeResponse(msg.Payload)
		if err != nil {
			np.log.WithError(err).Debug("networkpeer: malformed CubeResponse")
			return
		}
		np.handleCubeResponse(bins)
	case MessageNodeRequest:
		np.handleNodeRequest()
	case MessageNodeResponse:
		addrs, err := decodeNodeResponse(msg.Payload)
		if err != nil {
			np.log.WithError(err).Debug("networkpeer: malformed NodeResponse")
			return
		}
		if np.peerExchangeEnabled {
			for _, a := range addrs {
				np.peerDB.LearnPeer(a)
			}
		}
	case MessageMyServerAddress:
		addr, err := decodeMyServerAddress(msg.Payload)
		if err != nil {
			np.log.WithError(err).Debug("networkpeer: malformed MyServerAddress")
			return
		}
		np.handleMyServerAddress(addr)
	case MessageSubscribeCube:
		keys, err := decodeCubeRequest(msg.Payload)
		if err != nil {
			np.log.WithError(err).Debug("networkpeer: malformed SubscribeCube")
			return
		}
		np.handleSubscribeCube(keys)
	case MessageSubscriptionConfirmation:
		// Client-side acknowledgement of our own SubscribeCube; no
		// further action required beyond the counters already recorded.
	default:
		np.log.WithField("class", msg.Class).Debug("networkpeer: unknown message class")
	}
}

func (np *NetworkPeer) onCubeAdded(meta CubeMeta) {
	np.unsentInventoryMu.Lock()
	np.unsentInventory = append(np.unsentInventory, meta)
	np.unsentInventoryMu.Unlock()

	np.subsMu.Lock()
	expiry, subscribed := np.subs[meta.Key]
	np.subsMu.Unlock()
	if subscribed && time.Now().Before(expiry) {
		if c, ok, err := np.store.GetCube(meta.Key); ok && err == nil {
			if bin, err := c.Binary(); err == nil {
				np.send(encodeCubeResponse([][]byte{bin}))
			}
		}
	}
}

func (np *NetworkPeer) handleKeyRequest() {
	np.unsentInventoryMu.Lock()
	take := len(np.unsentInventory)
	if take > MaxCubeHashCount {
		take = MaxCubeHashCount
	}
	batch := append([]CubeMeta(nil), np.unsentInventory[:take]...)
	np.unsentInventory = append([]CubeMeta(nil), np.unsentInventory[take:]...)
	np.unsentInventoryMu.Unlock()
	np.send(encodeKeyResponse(batch))
}

// metaLikelyWins decides, from metadata alone, whether an advertised
// MUC is worth fetching. The byte-wise hash tiebreak of spec.md §4.D's
// cube contest needs both binaries, which we don't have yet here; a
// date/challenge_level tie is resolved in favor of requesting, letting
// CubeStore.AddCube's authoritative contest (run once we hold both
// binaries) make the final call.
func metaLikelyWins(existing, advertised CubeMeta) bool {
	if !advertised.Date.Equal(existing.Date) {
		return advertised.Date.After(existing.Date)
	}
	if advertised.ChallengeLevel != existing.ChallengeLevel {
		return advertised.ChallengeLevel > existing.ChallengeLevel
	}
	return true
}

func (np *NetworkPeer) handleKeyResponse(metas []CubeMeta) {
	var missing [][CubeKeySize]byte
	for _, m := range metas {
		existing, known := np.store.GetCubeInfo(m.Key)
		if !known {
			missing = append(missing, m.Key)
			continue
		}
		if m.CubeType == CubeTypeMUC && metaLikelyWins(existing, m) {
			missing = append(missing, m.Key)
		}
	}
	if len(missing) > 0 {
		np.send(encodeCubeRequest(missing))
	}
}

func (np *NetworkPeer) handleCubeRequest(keys [][CubeKeySize]byte) {
	if len(keys) > MaxCubeHashCount {
		keys = keys[:MaxCubeHashCount]
	}
	var bins [][]byte
	for _, k := range keys {
		c, ok, err := np.store.GetCube(k)
		if !ok || err != nil {
			continue // missing keys are silently omitted, spec.md §4.H
		}
		if bin, err := c.Binary(); err == nil {
			bins = append(bins, bin)
		}
	}
	np.send(encodeCubeResponse(bins))
}

func (np *NetworkPeer) handleCubeResponse(bins [][]byte) {
	for _, bin := range bins {
		if _, err := np.store.AddCube(bin); err != nil {
			np.log.WithError(err).Debug("networkpeer: rejecting cube from CubeResponse")
		}
	}
}

func (np *NetworkPeer) seedUnsentPeers() {
	np.mu.Lock()
	self := np.peer
	np.mu.Unlock()

	np.unsentPeersMu.Lock()
	defer np.unsentPeersMu.Unlock()
	np.unsentPeers = nil
	for _, p := range np.peerDB.SnapshotExchangeable() {
		if self != nil && p.SharesIdentityWith(self) {
			continue
		}
		np.unsentPeers = append(np.unsentPeers, p)
	}
}

func (np *NetworkPeer) onExchangeablePeer(p *Peer) {
	np.mu.Lock()
	self := np.peer
	np.mu.Unlock()
	if self != nil && p.SharesIdentityWith(self) {
		return
	}
	np.unsentPeersMu.Lock()
	np.unsentPeers = append(np.unsentPeers, p)
	np.unsentPeersMu.Unlock()
}

func (np *NetworkPeer) handleNodeRequest() {
	if !np.peerExchangeEnabled {
		return
	}
	np.unsentPeersMu.Lock()
	peers := np.unsentPeers
	shufflePeers(peers)
	take := len(peers)
	if take > MaxNodeAddressCount {
		take = MaxNodeAddressCount
	}
	selected := peers[:take]
	np.unsentPeers = append([]*Peer(nil), peers[take:]...)
	np.unsentPeersMu.Unlock()

	addrs := make([]Address, 0, len(selected))
	for _, p := range selected {
		if a, ok := p.PrimaryAddress(); ok {
			addrs = append(addrs, a)
		}
	}
	np.send(encodeNodeResponse(addrs))
}

func shufflePeers(s []*Peer) {
	for i := len(s) - 1; i > 0; i-- {
		j := randIndex(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

func (np *NetworkPeer) handleMyServerAddress(addr Address) {
	if addr.IsSelfSubstitution() && np.remoteHost != "" {
		addr = addr.WithHost(np.remoteHost)
	}
	np.mu.Lock()
	if np.peer == nil {
		np.peer = NewPeer(addr)
	} else {
		np.peer.AddAddress(addr)
	}
	if !np.peer.HasID && np.hasRemote {
		np.peer.ID = np.remoteID
		np.peer.HasID = true
	}
	peer := np.peer
	np.mu.Unlock()
	np.peerDB.MarkExchangeable(peer)
}

func (np *NetworkPeer) handleSubscribeCube(keys [][CubeKeySize]byte) {
	allKnown := true
	for _, k := range keys {
		if !np.store.HasCube(k) {
			allKnown = false
			break
		}
	}
	if !allKnown {
		keyBlob, hashBlob := np.subscriptionBlobs(keys)
		np.send(encodeSubscriptionConfirmation(SubscriptionKeyNotAvailable, keyBlob, hashBlob, 0))
		return
	}

	expiry := time.Now().Add(cubeSubscriptionPeriod)
	np.subsMu.Lock()
	for _, k := range keys {
		np.subs[k] = expiry
	}
	np.subsMu.Unlock()

	keyBlob, hashBlob := np.subscriptionBlobs(keys)
	np.send(encodeSubscriptionConfirmation(SubscriptionConfirmed, keyBlob, hashBlob, uint32(cubeSubscriptionPeriod.Milliseconds())))
}

// subscriptionBlobs implements spec.md §4.H's SubscriptionConfirmation
// blob rule: for a single key, the blobs are the key and its current
// hash; for multiple keys, each blob is the hash of the concatenation
// of the respective per-key values, so the client can verify the set
// without enumerating it.
func (np *NetworkPeer) subscriptionBlobs(keys [][CubeKeySize]byte) ([]byte, []byte) {
	if len(keys) == 1 {
		key := keys[0]
		var hash [HashSize]byte
		if c, ok, err := np.store.GetCube(key); ok && err == nil {
			if h, err := c.Hash(); err == nil {
				hash = h
			}
		}
		return append([]byte(nil), key[:]...), append([]byte(nil), hash[:]...)
	}
	var keyConcat, hashConcat []byte
	for _, k := range keys {
		keyConcat = append(keyConcat, k[:]...)
		if c, ok, err := np.store.GetCube(k); ok && err == nil {
			if h, err := c.Hash(); err == nil {
				hashConcat = append(hashConcat, h[:]...)
			}
		}
	}
	keyDigest := ContentHash(keyConcat)
	hashDigest := ContentHash(hashConcat)
	return keyDigest[:], hashDigest[:]
}
