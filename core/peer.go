package core

import (
	"crypto/rand"
	"time"
)

// PeerIDSize-byte peer identifier, learned via Hello (spec.md §4.E).
type PeerID [PeerIDSize]byte

// NewPeerID draws a random peer id, used by a node to identify itself
// in its own outgoing Hello.
func NewPeerID() (PeerID, error) {
	var id PeerID
	if _, err := rand.Read(id[:]); err != nil {
		return PeerID{}, err
	}
	return id, nil
}

func (id PeerID) zero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// Peer is a remote node's identity record as tracked by PeerDB
// (spec.md §4.E): an optional id learned via Hello, every address we
// know it by, which of those is "primary" (the one we'd advertise),
// and reconnect bookkeeping.
type Peer struct {
	ID                PeerID
	HasID             bool
	Addresses         []Address
	PrimaryIndex      int
	LastConnectAttempt time.Time
	AttemptCount      int
}

// NewPeer creates a Peer known only by address, before Hello.
func NewPeer(addr Address) *Peer {
	return &Peer{Addresses: []Address{addr}, PrimaryIndex: 0}
}

// PrimaryAddress returns the address a Peer would be advertised by, or
// the zero Address if none is known.
func (p *Peer) PrimaryAddress() (Address, bool) {
	if p.PrimaryIndex < 0 || p.PrimaryIndex >= len(p.Addresses) {
		return Address{}, false
	}
	return p.Addresses[p.PrimaryIndex], true
}

// AddAddress appends addr to p's known addresses if not already
// present, and reports whether it was newly added. A peer accumulates
// addresses over its lifetime, e.g. the client socket it connected
// from plus an advertised server address (spec.md §4.E).
func (p *Peer) AddAddress(addr Address) bool {
	for _, existing := range p.Addresses {
		if existing.Equal(addr) {
			return false
		}
	}
	p.Addresses = append(p.Addresses, addr)
	return true
}

// SharesIdentityWith implements spec.md §4.E's peer equality: same id,
// or any address in common.
func (p *Peer) SharesIdentityWith(other *Peer) bool {
	if p.HasID && other.HasID && p.ID == other.ID {
		return true
	}
	for _, a := range p.Addresses {
		for _, b := range other.Addresses {
			if a.Equal(b) {
				return true
			}
		}
	}
	return false
}

// HasAddress reports whether addr is among p's known addresses.
func (p *Peer) HasAddress(addr Address) bool {
	for _, a := range p.Addresses {
		if a.Equal(addr) {
			return true
		}
	}
	return false
}
