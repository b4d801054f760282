package core

import (
	"testing"
	"time"
)

func TestPeerDBLearnPeerFiresOnce(t *testing.T) {
	db := NewPeerDB()
	var fired int
	db.SubscribeNewPeer(func(p *Peer) { fired++ })

	addr := TCPAddress("10.0.0.1", 9000)
	p1 := db.LearnPeer(addr)
	p2 := db.LearnPeer(addr)

	if p1 == nil || p2 == nil {
		t.Fatal("LearnPeer returned nil for a non-blacklisted address")
	}
	if p1 != p2 {
		t.Fatal("re-learning the same address should return the existing Peer")
	}
	if fired != 1 {
		t.Fatalf("newPeer fired %d times, want 1", fired)
	}
}

func TestPeerDBLearnPeerSkipsBlacklisted(t *testing.T) {
	db := NewPeerDB()
	addr := TCPAddress("10.0.0.2", 9000)
	db.BlacklistAddress(addr)

	if p := db.LearnPeer(addr); p != nil {
		t.Fatal("LearnPeer should return nil for a blacklisted address")
	}
}

func TestPeerDBVerifyThenExchangeableTransitions(t *testing.T) {
	db := NewPeerDB()
	addr := TCPAddress("10.0.0.3", 9000)
	p := db.LearnPeer(addr)

	var id PeerID
	id[0] = 0x42
	db.VerifyPeer(p, id)
	if !p.HasID || p.ID != id {
		t.Fatal("VerifyPeer did not set the peer's id")
	}

	db.MarkExchangeable(p)
	if db.ExchangeableCount() != 1 {
		t.Fatalf("ExchangeableCount = %d, want 1", db.ExchangeableCount())
	}

	snap := db.SnapshotExchangeable()
	if len(snap) != 1 || snap[0] != p {
		t.Fatal("SnapshotExchangeable did not return the promoted peer")
	}
}

func TestPeerDBBlacklistSupersedesOtherBuckets(t *testing.T) {
	db := NewPeerDB()
	addr := TCPAddress("10.0.0.4", 9000)
	p := db.LearnPeer(addr)
	var id PeerID
	id[0] = 0x7
	db.VerifyPeer(p, id)

	db.Blacklist(p)
	if db.BlacklistedCount() != 1 {
		t.Fatalf("BlacklistedCount = %d, want 1", db.BlacklistedCount())
	}
	if db.ExchangeableCount() != 0 {
		t.Fatal("blacklisted peer must not remain exchangeable")
	}
	if got := db.Select(nil); got != nil {
		t.Fatal("Select must never return a blacklisted peer")
	}
	if !db.IsBlacklisted(addr) {
		t.Fatal("IsBlacklisted should report true for the blacklisted address")
	}
}

func TestPeerDBSelectExcludesGivenPeers(t *testing.T) {
	db := NewPeerDB()
	addr := TCPAddress("10.0.0.5", 9000)
	p := db.LearnPeer(addr)

	if got := db.Select([]*Peer{p}); got != nil {
		t.Fatal("Select must exclude peers present in the exclude list")
	}
	if got := db.Select(nil); got != p {
		t.Fatal("Select should return the only eligible candidate")
	}
}

func TestPeerDBSelectRespectsFibonacciBackoff(t *testing.T) {
	db := NewPeerDB()
	fixedNow := time.Now()
	db.now = func() time.Time { return fixedNow }

	addr := TCPAddress("10.0.0.6", 9000)
	p := db.LearnPeer(addr)
	p.AttemptCount = 3
	p.LastConnectAttempt = fixedNow // just attempted, backoff(3) > 0

	if got := db.Select(nil); got != nil {
		t.Fatal("peer within its backoff window must not be selected")
	}

	db.now = func() time.Time { return fixedNow.Add(365 * 24 * time.Hour) }
	if got := db.Select(nil); got != p {
		t.Fatal("peer whose backoff window has elapsed should become selectable")
	}
}
