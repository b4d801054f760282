package core

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Cube is a fixed-size, self-authenticating record. It is built
// field-by-field while "sculpting" (dirty=true), then sealed (mined +
// signed) into an immutable CubeSize-byte binary. Any field mutation
// after sealing re-dirties the cube and forces re-sealing on the next
// access to Binary/Hash/Key — see cubeManipulated.
type Cube struct {
	mu sync.Mutex

	cubeType CubeType
	def      *FieldDefinition
	fields   []Field

	publicKey  ed25519.PublicKey  // MUC only
	privateKey ed25519.PrivateKey // MUC only; never serialized

	difficulty int

	dirty  bool
	binary []byte
	hash   [HashSize]byte
}

// NewFrozenCube sculpts an unsealed frozen cube from caller-supplied
// content fields. date becomes the cube's 40-bit timestamp.
func NewFrozenCube(date time.Time, content []Field, difficulty int) (*Cube, error) {
	return sculpt(CubeTypeFrozen, nil, nil, date, content, difficulty)
}

// NewMUC sculpts an unsealed Mutable User Cube bound to (pk, sk).
func NewMUC(pk ed25519.PublicKey, sk ed25519.PrivateKey, date time.Time, content []Field, difficulty int) (*Cube, error) {
	if len(pk) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", ErrAPIMisuse, PublicKeySize)
	}
	return sculpt(CubeTypeMUC, pk, sk, date, content, difficulty)
}

func sculpt(ctype CubeType, pk ed25519.PublicKey, sk ed25519.PrivateKey, date time.Time, content []Field, difficulty int) (*Cube, error) {
	def, err := fieldDefinitionFor(ctype)
	if err != nil {
		return nil, err
	}

	frontLen := CubeTypeSize + TimestampSize
	backLen := 0
	for _, t := range def.PositionalBack {
		backLen += fixedLengths[t]
	}
	contentBytes := 0
	for _, f := range content {
		if n, ok := fixedLengths[f.Type]; ok {
			contentBytes += 1 + n
		} else {
			contentBytes += 2 + len(f.Value)
		}
	}

	available := CubeSize - frontLen - backLen - contentBytes
	if available < 2 {
		return nil, fmt.Errorf("%w: content of %d bytes leaves no room for the padding field in a %d-byte cube", ErrFieldSize, contentBytes, CubeSize)
	}

	padding := make([]byte, available-2)
	if _, err := crand.Read(padding); err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := crand.Read(nonce); err != nil {
		return nil, err
	}

	fields := make([]Field, 0, 2+len(content)+1+len(def.PositionalBack))
	fields = append(fields, newField(TypeCubeType, []byte{byte(ctype)}))
	fields = append(fields, newField(TypeDate, encodeTimestamp(date)))
	fields = append(fields, content...)
	fields = append(fields, newField(TypePadding, padding))

	switch ctype {
	case CubeTypeFrozen:
		fields = append(fields, newField(TypeNonce, nonce))
	case CubeTypeMUC:
		fields = append(fields, newField(TypePublicKey, append([]byte(nil), pk...)))
		fields = append(fields, newField(TypeNonce, nonce))
		fields = append(fields, newField(TypeSignature, make([]byte, FingerprintSize+SignatureSize)))
	}

	return &Cube{
		cubeType:   ctype,
		def:        def,
		fields:     fields,
		publicKey:  pk,
		privateKey: sk,
		difficulty: difficulty,
		dirty:      true,
	}, nil
}

// decodeCube parses a CubeSize binary into a sealed Cube without
// re-mining or re-signing; used by CubeStore when accepting bytes off
// the wire. Callers must separately Validate() it.
func decodeCube(data []byte) (*Cube, error) {
	if len(data) != CubeSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrBinaryLength, len(data), CubeSize)
	}
	if len(data) < CubeTypeSize {
		return nil, fmt.Errorf("%w: cannot read cube type tag", ErrBinaryLength)
	}
	ctype := CubeType(data[0])
	def, err := fieldDefinitionFor(ctype)
	if err != nil {
		return nil, err
	}
	fields, err := decompile(data, def)
	if err != nil {
		return nil, err
	}

	c := &Cube{
		cubeType: ctype,
		def:      def,
		fields:   fields,
		binary:   append([]byte(nil), data...),
		hash:     ContentHash(data),
	}
	if ctype == CubeTypeMUC {
		for _, f := range fields {
			if f.Type == TypePublicKey {
				c.publicKey = append(ed25519.PublicKey(nil), f.Value...)
			}
		}
	}
	return c, nil
}

func encodeTimestamp(t time.Time) []byte {
	var secs uint64
	if u := t.Unix(); u > 0 {
		secs = uint64(u)
	}
	b := make([]byte, TimestampSize)
	for i := TimestampSize - 1; i >= 0; i-- {
		b[i] = byte(secs)
		secs >>= 8
	}
	return b
}

func decodeTimestamp(b []byte) time.Time {
	var secs uint64
	for _, x := range b {
		secs = (secs << 8) | uint64(x)
	}
	return time.Unix(int64(secs), 0).UTC()
}

// cubeManipulated invalidates the cached binary/hash; call after any
// field mutation during sculpting.
func (c *Cube) cubeManipulated() {
	c.dirty = true
	c.binary = nil
}

// Type returns the cube's CubeType.
func (c *Cube) Type() CubeType {
	return c.cubeType
}

// Date returns the cube's 40-bit timestamp field, decoded.
func (c *Cube) Date() time.Time {
	for _, f := range c.fields {
		if f.Type == TypeDate {
			return decodeTimestamp(f.Value)
		}
	}
	return time.Time{}
}

// SetDate updates the date field and re-dirties the cube.
func (c *Cube) SetDate(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields, err := ensureFieldInFront(c.fields, c.def, TypeDate, encodeTimestamp(t))
	if err != nil {
		return err
	}
	c.fields = fields
	c.cubeManipulated()
	return nil
}

// Payloads returns the values of all TypePayload content fields, in
// order.
func (c *Cube) Payloads() [][]byte {
	var out [][]byte
	for _, f := range c.fields {
		if f.Type == TypePayload {
			out = append(out, append([]byte(nil), f.Value...))
		}
	}
	return out
}

// SetPayload replaces all content (TypePayload) fields with a single
// field carrying value, re-padding to keep the cube at CubeSize. This
// re-sculpts the cube in place.
func (c *Cube) SetPayload(value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var content []Field
	content = append(content, newField(TypePayload, value))

	rebuilt, err := sculpt(c.cubeType, c.publicKey, c.privateKey, c.Date(), content, c.difficulty)
	if err != nil {
		return err
	}
	c.fields = rebuilt.fields
	c.cubeManipulated()
	return nil
}

// Seal mines a valid nonce (and, for MUCs, a matching signature) and
// finalizes the cube's binary and hash. It is idempotent: calling it
// again on an unchanged cube is a no-op.
func (c *Cube) Seal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sealLocked()
}

func (c *Cube) sealLocked() error {
	if !c.dirty && c.binary != nil {
		return nil
	}
	if c.cubeType == CubeTypeMUC && (c.privateKey == nil || c.publicKey == nil) {
		return fmt.Errorf("%w: MUC cannot be sealed without a keypair", ErrAPIMisuse)
	}

	nonceIdx := -1
	sigIdx := -1
	for i, f := range c.fields {
		switch f.Type {
		case TypeNonce:
			nonceIdx = i
		case TypeSignature:
			sigIdx = i
		}
	}
	if nonceIdx < 0 {
		return fmt.Errorf("%w: cube has no nonce field", ErrAPIMisuse)
	}

	if c.cubeType == CubeTypeMUC {
		fp := Fingerprint(c.publicKey)
		placeholder := make([]byte, FingerprintSize+SignatureSize)
		copy(placeholder, fp[:])
		c.fields[sigIdx].Value = placeholder
	}

	var counter uint32
	attempts := 0
	for {
		nonceBytes := make([]byte, NonceSize)
		binary.BigEndian.PutUint32(nonceBytes, counter)
		c.fields[nonceIdx].Value = nonceBytes

		buf, err := compile(c.fields, c.def)
		if err != nil {
			return err
		}

		if c.cubeType == CubeTypeMUC {
			sigStart := c.fields[sigIdx].Start
			payload := buf[:sigStart+FingerprintSize]
			sig := SignDetached(payload, c.privateKey)
			copy(buf[sigStart+FingerprintSize:sigStart+FingerprintSize+SignatureSize], sig)
			c.fields[sigIdx].Value = append([]byte(nil), buf[sigStart:sigStart+FingerprintSize+SignatureSize]...)
		}

		h := ContentHash(buf)
		if TrailingZeroBits(h[:]) >= c.difficulty {
			c.binary = buf
			c.hash = h
			c.dirty = false
			return nil
		}

		attempts++
		if attempts%miningYieldEvery == 0 {
			runtime.Gosched()
		}
		counter++
		if counter == 0 {
			return fmt.Errorf("%w: exhausted %d-bit nonce space at difficulty %d", ErrInsufficientDifficulty, NonceSize*8, c.difficulty)
		}
	}
}

// Binary returns the sealed CubeSize-byte wire representation,
// re-sealing lazily if the cube is dirty.
func (c *Cube) Binary() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sealLocked(); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.binary...), nil
}

// Hash returns hash(Binary()), re-sealing lazily if needed.
func (c *Cube) Hash() ([HashSize]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sealLocked(); err != nil {
		return [HashSize]byte{}, err
	}
	return c.hash, nil
}

// ChallengeLevel returns the trailing-zero-bit count of the sealed
// cube's hash — the "challenge level" of spec.md §4.D.
func (c *Cube) ChallengeLevel() (int, error) {
	h, err := c.Hash()
	if err != nil {
		return 0, err
	}
	return TrailingZeroBits(h[:]), nil
}

// Key returns the cube's content-addressed or public-key-addressed key
// per spec.md §4.C.
func (c *Cube) Key() ([CubeKeySize]byte, error) {
	var key [CubeKeySize]byte
	switch c.cubeType {
	case CubeTypeFrozen:
		h, err := c.Hash()
		if err != nil {
			return key, err
		}
		return h, nil
	case CubeTypeMUC:
		if len(c.publicKey) != PublicKeySize {
			return key, fmt.Errorf("%w: MUC missing public key", ErrAPIMisuse)
		}
		copy(key[:], c.publicKey)
		return key, nil
	default:
		return key, ErrUnknownFieldType
	}
}

// PublicKey returns the MUC's embedded public key, or nil for frozen
// cubes.
func (c *Cube) PublicKey() ed25519.PublicKey {
	return c.publicKey
}

// Validate checks a (possibly foreign, just-decoded) cube's
// authenticity per spec.md §4.C/§4.D: hashcash for frozen, fingerprint
// + signature for MUC.
func (c *Cube) Validate(requiredDifficulty int) error {
	bin, err := c.Binary()
	if err != nil {
		return err
	}

	switch c.cubeType {
	case CubeTypeFrozen:
		h := ContentHash(bin)
		if TrailingZeroBits(h[:]) < requiredDifficulty {
			return ErrInsufficientDifficulty
		}
		return nil
	case CubeTypeMUC:
		return c.validateMUC(bin)
	default:
		return ErrUnknownFieldType
	}
}

func (c *Cube) validateMUC(bin []byte) error {
	var pkField, sigField *Field
	for i := range c.fields {
		switch c.fields[i].Type {
		case TypePublicKey:
			pkField = &c.fields[i]
		case TypeSignature:
			sigField = &c.fields[i]
		}
	}
	if pkField == nil || sigField == nil {
		return fmt.Errorf("%w: MUC missing public key or signature field", ErrBinaryData)
	}
	pk := ed25519.PublicKey(pkField.Value)
	if len(pk) != PublicKeySize {
		return fmt.Errorf("%w: public key wrong size", ErrFieldSize)
	}
	if len(sigField.Value) != FingerprintSize+SignatureSize {
		return fmt.Errorf("%w: signature field wrong size", ErrFieldSize)
	}

	wantFP := Fingerprint(pk)
	gotFP := sigField.Value[:FingerprintSize]
	if !bytesEqual(wantFP[:], gotFP) {
		return ErrFingerprint
	}

	sigStart := sigField.Start
	payload := bin[:sigStart+FingerprintSize]
	sig := sigField.Value[FingerprintSize:]
	if !VerifyDetached(sig, payload, pk) {
		return ErrCubeSignature
	}
	return nil
}
