package core

import (
	"crypto/ed25519"

	"lukechampine.com/blake3"
)

// ContentHash returns the HashSize-byte content hash used to key frozen
// cubes and to compute MUC fingerprints. blake3 is used over stdlib
// sha256 purely because it's already present in the dependency graph
// this module is grounded on and the spec leaves the algorithm
// unconstrained beyond a minimum output size.
func ContentHash(data []byte) [HashSize]byte {
	var out [HashSize]byte
	sum := blake3.Sum256(data)
	copy(out[:], sum[:])
	return out
}

// TrailingZeroBits counts zero bits from the low-order end of buf,
// starting at the last byte and working backwards. This is the
// hashcash difficulty metric of spec.md §4.A.
func TrailingZeroBits(buf []byte) int {
	count := 0
	for i := len(buf) - 1; i >= 0; i-- {
		b := buf[i]
		if b == 0 {
			count += 8
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if (b>>uint(bit))&1 != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// GenerateSigningKey creates a fresh Ed25519 keypair for a MUC owner.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// SignDetached produces a detached Ed25519 signature over msg.
func SignDetached(msg []byte, sk ed25519.PrivateKey) []byte {
	return ed25519.Sign(sk, msg)
}

// VerifyDetached checks a detached Ed25519 signature over msg.
func VerifyDetached(sig, msg []byte, pk ed25519.PublicKey) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}

// Fingerprint returns the first FingerprintSize bytes of hash(pk), used
// to identify a MUC's owner inside its signature region.
func Fingerprint(pk ed25519.PublicKey) [FingerprintSize]byte {
	h := ContentHash(pk)
	var fp [FingerprintSize]byte
	copy(fp[:], h[:FingerprintSize])
	return fp
}
