package core

import (
	"testing"
	"time"
)

func mustFrozen(t *testing.T, payload string) *Cube {
	t.Helper()
	c, err := NewFrozenCube(time.Now(), []Field{newField(TypePayload, []byte(payload))}, 0)
	if err != nil {
		t.Fatalf("NewFrozenCube: %v", err)
	}
	if _, err := c.Binary(); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return c
}

func TestCubeStoreAddAndGet(t *testing.T) {
	store := NewCubeStore(NewMemoryBackend(), 0)
	c := mustFrozen(t, "payload one")

	meta, err := store.AddCube(c)
	if err != nil {
		t.Fatalf("AddCube: %v", err)
	}
	if meta == nil {
		t.Fatal("expected cube to be newly stored")
	}
	if !store.HasCube(meta.Key) {
		t.Fatal("HasCube false after AddCube succeeded")
	}

	got, ok, err := store.GetCube(meta.Key)
	if err != nil || !ok {
		t.Fatalf("GetCube: ok=%v err=%v", ok, err)
	}
	gotBin, err := got.Binary()
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	wantBin, _ := c.Binary()
	if string(gotBin) != string(wantBin) {
		t.Fatal("stored cube bytes do not match the added cube")
	}
}

func TestCubeStoreDuplicateFrozenIsDiscarded(t *testing.T) {
	store := NewCubeStore(NewMemoryBackend(), 0)
	c := mustFrozen(t, "dup me")
	bin, _ := c.Binary()

	first, err := store.AddCube(append([]byte(nil), bin...))
	if err != nil || first == nil {
		t.Fatalf("first AddCube: meta=%v err=%v", first, err)
	}
	second, err := store.AddCube(append([]byte(nil), bin...))
	if err != nil {
		t.Fatalf("second AddCube: %v", err)
	}
	if second != nil {
		t.Fatal("duplicate frozen cube should not report as newly stored")
	}
}

func TestCubeStoreMUCContestNewerDateWins(t *testing.T) {
	store := NewCubeStore(NewMemoryBackend(), 0)
	pk, sk, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	older, err := NewMUC(pk, sk, time.Now().Add(-time.Hour), []Field{newField(TypePayload, []byte("v1"))}, 0)
	if err != nil {
		t.Fatalf("NewMUC: %v", err)
	}
	newer, err := NewMUC(pk, sk, time.Now(), []Field{newField(TypePayload, []byte("v2"))}, 0)
	if err != nil {
		t.Fatalf("NewMUC: %v", err)
	}

	if _, err := store.AddCube(older); err != nil {
		t.Fatalf("add older: %v", err)
	}
	meta, err := store.AddCube(newer)
	if err != nil {
		t.Fatalf("add newer: %v", err)
	}
	if meta == nil {
		t.Fatal("newer MUC should win the contest and be stored")
	}

	stored, _, err := store.GetCube(meta.Key)
	if err != nil {
		t.Fatalf("GetCube: %v", err)
	}
	payloads := stored.Payloads()
	if len(payloads) != 1 || string(payloads[0]) != "v2" {
		t.Fatalf("expected winning payload v2, got %v", payloads)
	}

	// An older update arriving after must lose the contest.
	olderAgain, err := NewMUC(pk, sk, time.Now().Add(-2*time.Hour), []Field{newField(TypePayload, []byte("v0"))}, 0)
	if err != nil {
		t.Fatalf("NewMUC: %v", err)
	}
	result, err := store.AddCube(olderAgain)
	if err != nil {
		t.Fatalf("add stale update: %v", err)
	}
	if result != nil {
		t.Fatal("stale MUC update should not win the contest")
	}
}

func TestCubeStoreRetentionWindowRejectsOutOfRange(t *testing.T) {
	store := NewCubeStore(NewMemoryBackend(), 0).WithRetention(time.Hour, time.Hour)
	old, err := NewFrozenCube(time.Now().Add(-48*time.Hour), []Field{newField(TypePayload, []byte("ancient"))}, 0)
	if err != nil {
		t.Fatalf("NewFrozenCube: %v", err)
	}
	meta, err := store.AddCube(old)
	if err != nil {
		t.Fatalf("AddCube: %v", err)
	}
	if meta != nil {
		t.Fatal("cube outside the retention window should not be stored")
	}
}

func TestCubeStoreCubeAddedEventFires(t *testing.T) {
	store := NewCubeStore(NewMemoryBackend(), 0)
	fired := make(chan CubeMeta, 1)
	store.SubscribeCubeAdded(func(m CubeMeta) { fired <- m })

	c := mustFrozen(t, "event test")
	meta, err := store.AddCube(c)
	if err != nil || meta == nil {
		t.Fatalf("AddCube: meta=%v err=%v", meta, err)
	}

	select {
	case got := <-fired:
		if got.Key != meta.Key {
			t.Fatal("cube_added event carried the wrong key")
		}
	case <-time.After(time.Second):
		t.Fatal("cube_added event did not fire")
	}
}
