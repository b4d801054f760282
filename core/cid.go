package core

import (
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// cubeCID builds a debug/export-only CIDv1 for a cube's wire key. It is
// never used as the wire key itself (the wire key stays the raw 32
// bytes per spec.md §4.C) — it exists so operators/tools can print a
// stable, self-describing identifier for a stored cube, mirroring how
// the teacher's storage gateway wraps raw content hashes in a CID
// (core/storage.go).
func cubeCID(key [CubeKeySize]byte, ctype CubeType) (cid.Cid, error) {
	code, ok := mh.Names["blake3"]
	if !ok {
		code = mh.SHA2_256
	}
	digest, err := mh.Encode(key[:], code)
	if err != nil {
		return cid.Undef, err
	}
	codec := uint64(0x55) // raw binary codec
	if ctype == CubeTypeMUC {
		codec = 0x70 // dag-pb-ish placeholder codec to mark mutability in debug output
	}
	return cid.NewCidV1(codec, digest), nil
}

// CID returns the textual CIDv1 form of a sealed cube's key.
func (c *Cube) CID() (string, error) {
	key, err := c.Key()
	if err != nil {
		return "", err
	}
	id, err := cubeCID(key, c.cubeType)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
