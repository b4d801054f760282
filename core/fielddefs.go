package core

// Field type tags. Values are 6-bit (0-63); see FieldType in field.go.
const (
	TypeCubeType FieldType = iota // front positional: the CubeType byte
	TypeDate                      // front positional: 40-bit timestamp
	TypePayload                   // typed: caller-supplied content
	TypePadding                   // typed: random filler to reach CubeSize; doubles as the stop field
	TypePublicKey                  // back positional (MUC only): Ed25519 public key
	TypeNonce                     // back positional: hashcash mining nonce
	TypeSignature                  // back positional (MUC only): fingerprint||signature
	TypeRemainder                  // synthetic: bytes observed after the stop field

	// Reserved, unimplemented field types (spec.md §4.B).
	TypeKeyDistribution
	TypeSharedKey
	TypeEncrypted
)

var fixedLengths = map[FieldType]int{
	TypeCubeType:  CubeTypeSize,
	TypeDate:      TimestampSize,
	TypePublicKey: PublicKeySize,
	TypeNonce:     NonceSize,
	TypeSignature: FingerprintSize + SignatureSize,
}

// frozenFieldDefinition describes the layout of a FROZEN/REGULAR cube:
// front positionals [CubeType, Date], typed content fields terminated
// by a Padding stop field, then a single Nonce back positional.
func frozenFieldDefinition() *FieldDefinition {
	return &FieldDefinition{
		Name:              "frozen",
		PositionalFront:   []FieldType{TypeCubeType, TypeDate},
		PositionalBack:    []FieldType{TypeNonce},
		FixedLength:       fixedLengths,
		HasStopField:      true,
		StopField:         TypePadding,
		HasRemainderField: true,
		RemainderField:    TypeRemainder,
	}
}

// mucFieldDefinition describes the layout of a Mutable User Cube: front
// positionals [CubeType, Date], typed content fields terminated by a
// Padding stop field, then back positionals [PublicKey, Nonce,
// Signature] — public key and nonce both precede (and are therefore
// covered by) the signature, per spec.md §4.C.
func mucFieldDefinition() *FieldDefinition {
	return &FieldDefinition{
		Name:              "muc",
		PositionalFront:   []FieldType{TypeCubeType, TypeDate},
		PositionalBack:    []FieldType{TypePublicKey, TypeNonce, TypeSignature},
		FixedLength:       fixedLengths,
		HasStopField:      true,
		StopField:         TypePadding,
		HasRemainderField: true,
		RemainderField:    TypeRemainder,
	}
}

// fieldDefinitionFor returns the layout rules for a given CubeType.
func fieldDefinitionFor(t CubeType) (*FieldDefinition, error) {
	switch t {
	case CubeTypeFrozen:
		return frozenFieldDefinition(), nil
	case CubeTypeMUC:
		return mucFieldDefinition(), nil
	default:
		return nil, ErrUnknownFieldType
	}
}
