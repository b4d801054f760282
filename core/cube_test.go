package core

import (
	"testing"
	"time"
)

func TestFrozenCubeSealAndValidate(t *testing.T) {
	c, err := NewFrozenCube(time.Now(), []Field{newField(TypePayload, []byte("hello"))}, 0)
	if err != nil {
		t.Fatalf("NewFrozenCube: %v", err)
	}
	bin, err := c.Binary()
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	if len(bin) != CubeSize {
		t.Fatalf("Binary length = %d, want %d", len(bin), CubeSize)
	}
	if err := c.Validate(0); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFrozenCubeKeyIsContentHash(t *testing.T) {
	c, err := NewFrozenCube(time.Now(), []Field{newField(TypePayload, []byte("key test"))}, 0)
	if err != nil {
		t.Fatalf("NewFrozenCube: %v", err)
	}
	key, err := c.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	hash, err := c.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if key != hash {
		t.Fatal("frozen cube key must equal its content hash")
	}
}

func TestMUCSealSignsOverNonce(t *testing.T) {
	pk, sk, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	c, err := NewMUC(pk, sk, time.Now(), []Field{newField(TypePayload, []byte("muc content"))}, 0)
	if err != nil {
		t.Fatalf("NewMUC: %v", err)
	}
	bin, err := c.Binary()
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	if err := c.Validate(0); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	decoded, err := decodeCube(bin)
	if err != nil {
		t.Fatalf("decodeCube: %v", err)
	}
	if err := decoded.Validate(0); err != nil {
		t.Fatalf("decoded MUC failed validation: %v", err)
	}

	key, err := c.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if string(key[:]) != string(pk) {
		t.Fatal("MUC key must equal its public key")
	}
}

func TestMUCValidateRejectsTamperedSignature(t *testing.T) {
	pk, sk, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	c, err := NewMUC(pk, sk, time.Now(), []Field{newField(TypePayload, []byte("content"))}, 0)
	if err != nil {
		t.Fatalf("NewMUC: %v", err)
	}
	bin, err := c.Binary()
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	tampered := append([]byte(nil), bin...)
	tampered[len(tampered)-1] ^= 0xFF // flip a bit inside the signature field

	decoded, err := decodeCube(tampered)
	if err != nil {
		t.Fatalf("decodeCube: %v", err)
	}
	if err := decoded.Validate(0); err == nil {
		t.Fatal("expected tampered MUC to fail validation")
	}
}

func TestFrozenCubeRejectsInsufficientDifficulty(t *testing.T) {
	c, err := NewFrozenCube(time.Now(), []Field{newField(TypePayload, []byte("x"))}, 0)
	if err != nil {
		t.Fatalf("NewFrozenCube: %v", err)
	}
	bin, err := c.Binary()
	if err != nil {
		t.Fatalf("Binary: %v", err)
	}
	decoded, err := decodeCube(bin)
	if err != nil {
		t.Fatalf("decodeCube: %v", err)
	}
	// Sealed at difficulty 0; requiring more than its actual challenge
	// level must fail.
	level, err := decoded.ChallengeLevel()
	if err != nil {
		t.Fatalf("ChallengeLevel: %v", err)
	}
	if err := decoded.Validate(level + 1); err == nil {
		t.Fatal("expected validation to fail when requiring more difficulty than the cube has")
	}
}
