package core

import (
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*NetworkManager, *CubeStore, *PeerDB, *Server) {
	t.Helper()
	store := NewCubeStore(NewMemoryBackend(), 0)
	peerDB := NewPeerDB()
	manager, err := NewNetworkManager(store, peerDB, NetworkManagerOptions{PeerExchangeEnabled: true})
	if err != nil {
		t.Fatalf("NewNetworkManager: %v", err)
	}
	server, err := ListenTCP(TCPAddress("127.0.0.1", 0), manager)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	return manager, store, peerDB, server
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNetworkManagerConnectsAndSyncsCubes(t *testing.T) {
	managerA, storeA, peerDBA, serverA := newTestManager(t)
	managerB, storeB, _, serverB := newTestManager(t)
	defer managerA.Shutdown()
	defer managerB.Shutdown()

	addrB, ok := serverB.DialableAddress()
	if !ok {
		t.Fatal("serverB has no dialable address")
	}

	c, err := NewFrozenCube(time.Now(), []Field{newField(TypePayload, []byte("manager sync"))}, 0)
	if err != nil {
		t.Fatalf("NewFrozenCube: %v", err)
	}
	meta, err := storeA.AddCube(c)
	if err != nil || meta == nil {
		t.Fatalf("AddCube: meta=%v err=%v", meta, err)
	}

	peerDBA.LearnPeer(addrB)

	waitForCondition(t, 5*time.Second, func() bool {
		return storeB.HasCube(meta.Key)
	})

	_ = serverA
}

func TestNetworkManagerSelfConnectionIsBlacklisted(t *testing.T) {
	manager, _, peerDB, server := newTestManager(t)
	defer manager.Shutdown()

	self, ok := server.DialableAddress()
	if !ok {
		t.Fatal("server has no dialable address")
	}

	peerDB.LearnPeer(self)

	waitForCondition(t, 5*time.Second, func() bool {
		return peerDB.BlacklistedCount() > 0
	})
}
