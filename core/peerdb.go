package core

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PeerDB holds the four disjoint peer containers of spec.md §4.F and
// the transitions between them. All mutating methods are serialized;
// Snapshot* methods return copies safe for callers to range over
// without holding the lock.
type PeerDB struct {
	mu sync.Mutex

	unverified   map[string]*Peer // keyed by primary-address string
	verified     map[string]*Peer // keyed by id hex
	exchangeable map[string]*Peer // keyed by id hex
	blacklisted  map[string]struct{} // keyed by address string

	newPeerBus         *eventBus[*Peer]
	verifiedPeerBus    *eventBus[*Peer]
	exchangeablePeerBus *eventBus[*Peer]

	now func() time.Time
	log *logrus.Logger
}

// NewPeerDB creates an empty PeerDB.
func NewPeerDB() *PeerDB {
	return &PeerDB{
		unverified:          make(map[string]*Peer),
		verified:            make(map[string]*Peer),
		exchangeable:        make(map[string]*Peer),
		blacklisted:         make(map[string]struct{}),
		newPeerBus:          newEventBus[*Peer](),
		verifiedPeerBus:     newEventBus[*Peer](),
		exchangeablePeerBus: newEventBus[*Peer](),
		now:                 time.Now,
		log:                 logrus.StandardLogger(),
	}
}

func idHex(id PeerID) string {
	return hexEncode(id[:])
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xF]
	}
	return string(out)
}

// SubscribeNewPeer registers fn against the newPeer event (spec.md
// §4.F), fired each time learnPeer adds a previously unknown peer.
func (db *PeerDB) SubscribeNewPeer(fn func(*Peer)) listenerID {
	return db.newPeerBus.Subscribe(fn)
}

// SubscribeVerifiedPeer registers fn against the verifiedPeer event.
func (db *PeerDB) SubscribeVerifiedPeer(fn func(*Peer)) listenerID {
	return db.verifiedPeerBus.Subscribe(fn)
}

// SubscribeExchangeablePeer registers fn against the exchangeablePeer event.
func (db *PeerDB) SubscribeExchangeablePeer(fn func(*Peer)) listenerID {
	return db.exchangeablePeerBus.Subscribe(fn)
}

// UnsubscribeNewPeer, UnsubscribeVerifiedPeer, UnsubscribeExchangeablePeer
// remove previously registered handlers.
func (db *PeerDB) UnsubscribeNewPeer(id listenerID)          { db.newPeerBus.Unsubscribe(id) }
func (db *PeerDB) UnsubscribeVerifiedPeer(id listenerID)     { db.verifiedPeerBus.Unsubscribe(id) }
func (db *PeerDB) UnsubscribeExchangeablePeer(id listenerID) { db.exchangeablePeerBus.Unsubscribe(id) }

// IsBlacklisted reports whether addr has been blacklisted.
func (db *PeerDB) IsBlacklisted(addr Address) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.blacklisted[addr.String()]
	return ok
}

// LearnPeer records addr as a peer we've heard of but not yet
// completed Hello with. No-op if addr is blacklisted, or if it is
// already known under any bucket. Fires newPeer on first sighting.
func (db *PeerDB) LearnPeer(addr Address) *Peer {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := addr.String()
	if _, blocked := db.blacklisted[key]; blocked {
		return nil
	}
	if p := db.findByAddressLocked(addr); p != nil {
		return p
	}
	p := NewPeer(addr)
	db.unverified[key] = p
	db.log.WithField("address", key).Debug("peerdb: learned new peer")
	db.newPeerBus.Publish(p)
	return p
}

// findByAddressLocked scans every bucket for a peer already carrying
// addr. Called with db.mu held.
func (db *PeerDB) findByAddressLocked(addr Address) *Peer {
	for _, p := range db.unverified {
		if p.HasAddress(addr) {
			return p
		}
	}
	for _, p := range db.verified {
		if p.HasAddress(addr) {
			return p
		}
	}
	for _, p := range db.exchangeable {
		if p.HasAddress(addr) {
			return p
		}
	}
	return nil
}

// VerifyPeer promotes p to verified: a successful Hello exchange with
// no publicly reachable address yet known. Removes p from unverified;
// a no-op if p is already exchangeable.
func (db *PeerDB) VerifyPeer(p *Peer, id PeerID) {
	db.mu.Lock()
	defer db.mu.Unlock()

	p.ID = id
	p.HasID = true
	key := idHex(id)
	if _, already := db.exchangeable[key]; already {
		return
	}
	for addrKey, candidate := range db.unverified {
		if candidate == p {
			delete(db.unverified, addrKey)
		}
	}
	db.verified[key] = p
	db.verifiedPeerBus.Publish(p)
}

// MarkExchangeable promotes p to exchangeable: Hello succeeded and we
// have an address we can hand out to others. Removes p from verified
// and unverified.
func (db *PeerDB) MarkExchangeable(p *Peer) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for addrKey, candidate := range db.unverified {
		if candidate == p {
			delete(db.unverified, addrKey)
		}
	}
	if p.HasID {
		delete(db.verified, idHex(p.ID))
		db.exchangeable[idHex(p.ID)] = p
	}
	db.exchangeablePeerBus.Publish(p)
}

// Blacklist removes p from every other bucket and marks every address
// it is known by as never-reconnect.
func (db *PeerDB) Blacklist(p *Peer) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if p.HasID {
		key := idHex(p.ID)
		delete(db.verified, key)
		delete(db.exchangeable, key)
	}
	for addrKey, candidate := range db.unverified {
		if candidate == p {
			delete(db.unverified, addrKey)
		}
	}
	for _, a := range p.Addresses {
		db.blacklisted[a.String()] = struct{}{}
	}
}

// BlacklistAddress blacklists addr directly, independent of any known
// Peer record.
func (db *PeerDB) BlacklistAddress(addr Address) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.blacklisted[addr.String()] = struct{}{}
}

// BlacklistedCount returns the number of distinct blacklisted addresses.
func (db *PeerDB) BlacklistedCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.blacklisted)
}

// ExchangeableCount returns the number of exchangeable peers.
func (db *PeerDB) ExchangeableCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.exchangeable)
}

// SnapshotExchangeable returns a copy of the exchangeable peer list,
// safe to range over without holding PeerDB's lock.
func (db *PeerDB) SnapshotExchangeable() []*Peer {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*Peer, 0, len(db.exchangeable))
	for _, p := range db.exchangeable {
		out = append(out, p)
	}
	return out
}

// Select implements spec.md §4.F's outbound-candidate selection:
// candidates are the union of all three live buckets minus exclude,
// filtered to those eligible per the Fibonacci reconnect backoff, with
// one chosen uniformly at random. Returns nil if no candidate is
// eligible.
func (db *PeerDB) Select(exclude []*Peer) *Peer {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	var eligible []*Peer
	add := func(p *Peer) {
		for _, ex := range exclude {
			if p.SharesIdentityWith(ex) {
				return
			}
		}
		backoff := time.Duration(fibonacci(min(p.AttemptCount, FibMax))) * ReconnectInterval
		if !p.LastConnectAttempt.IsZero() && now.Before(p.LastConnectAttempt.Add(backoff)) {
			return
		}
		eligible = append(eligible, p)
	}
	for _, p := range db.unverified {
		add(p)
	}
	for _, p := range db.verified {
		add(p)
	}
	for _, p := range db.exchangeable {
		add(p)
	}
	if len(eligible) == 0 {
		return nil
	}
	return eligible[randIndex(len(eligible))]
}

// randIndex returns a uniformly random index in [0, n) using
// crypto/rand, since math/rand's global state would be the only
// stdlib alternative and PeerDB selection has no need to avoid a
// cryptographic source.
func randIndex(n int) int {
	if n <= 1 {
		return 0
	}
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	v := binary.BigEndian.Uint64(buf[:])
	return int(v % uint64(n))
}
