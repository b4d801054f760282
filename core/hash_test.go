package core

import "testing"

func TestTrailingZeroBits(t *testing.T) {
	cases := []struct {
		in   []byte
		want int
	}{
		{[]byte{0x00, 0x00}, 16},
		{[]byte{0x01}, 0},
		{[]byte{0x02}, 1},
		{[]byte{0x80}, 7},
		{[]byte{0x80, 0x00}, 15},
		{[]byte{0x01, 0x00}, 8},
	}
	for _, c := range cases {
		got := TrailingZeroBits(c.in)
		if got != c.want {
			t.Errorf("TrailingZeroBits(%x) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("same input"))
	b := ContentHash([]byte("same input"))
	if a != b {
		t.Fatal("ContentHash is not deterministic for identical input")
	}
	c := ContentHash([]byte("different input"))
	if a == c {
		t.Fatal("ContentHash collided for different input")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pk, sk, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	msg := []byte("a message to authenticate")
	sig := SignDetached(msg, sk)
	if !VerifyDetached(sig, msg, pk) {
		t.Fatal("valid signature failed to verify")
	}
	if VerifyDetached(sig, []byte("tampered"), pk) {
		t.Fatal("signature verified against a different message")
	}
}

func TestFingerprintIsStableAndShort(t *testing.T) {
	pk, _, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	fp1 := Fingerprint(pk)
	fp2 := Fingerprint(pk)
	if fp1 != fp2 {
		t.Fatal("Fingerprint is not deterministic")
	}
	if len(fp1) != FingerprintSize {
		t.Fatalf("Fingerprint length = %d, want %d", len(fp1), FingerprintSize)
	}
}
