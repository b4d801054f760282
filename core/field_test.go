package core

import (
	"errors"
	"testing"
)

func TestCompileDecompileRoundTripFrozen(t *testing.T) {
	def, err := fieldDefinitionFor(CubeTypeFrozen)
	if err != nil {
		t.Fatalf("fieldDefinitionFor: %v", err)
	}

	fields := []Field{
		newField(TypeCubeType, []byte{byte(CubeTypeFrozen)}),
		newField(TypeDate, make([]byte, TimestampSize)),
		newField(TypePayload, []byte("hello cube")),
		newField(TypePadding, make([]byte, 100)),
		newField(TypeNonce, make([]byte, NonceSize)),
	}

	buf, err := compile(fields, def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	decoded, err := decompile(buf, def)
	if err != nil {
		t.Fatalf("decompile: %v", err)
	}
	if !fieldsEqual(fields, decoded, def, EqualOrdered, false) {
		t.Fatalf("round trip mismatch:\n  in:  %+v\n  out: %+v", fields, decoded)
	}
}

func TestCompileRejectsOversizedType(t *testing.T) {
	def, _ := fieldDefinitionFor(CubeTypeFrozen)
	fields := []Field{
		newField(TypeCubeType, []byte{byte(CubeTypeFrozen)}),
		newField(TypeDate, make([]byte, TimestampSize)),
		newField(FieldType(0x40), []byte("x")), // > maxFieldType
		newField(TypePadding, make([]byte, 10)),
		newField(TypeNonce, make([]byte, NonceSize)),
	}
	if _, err := compile(fields, def); err == nil {
		t.Fatal("expected error for out-of-range field type")
	}
}

func TestCompileRejectsWrongPositionalType(t *testing.T) {
	def, _ := fieldDefinitionFor(CubeTypeFrozen)
	// Front positional slot 0 expects TypeCubeType; TypeDate is the wrong
	// type for that slot (and its fixed length, TimestampSize, differs
	// from CubeTypeSize). compile checks the type before the length, so
	// the error must be ErrWrongFieldType rather than ErrFieldSize.
	fields := []Field{
		newField(TypeDate, make([]byte, TimestampSize)),
		newField(TypeDate, make([]byte, TimestampSize)),
		newField(TypePayload, []byte("x")),
		newField(TypePadding, make([]byte, 10)),
		newField(TypeNonce, make([]byte, NonceSize)),
	}
	_, err := compile(fields, def)
	if err == nil {
		t.Fatal("expected error for a field in the wrong positional slot")
	}
	if !errors.Is(err, ErrWrongFieldType) {
		t.Fatalf("expected ErrWrongFieldType, got %v", err)
	}
}

func TestMiddleFixedLengthFieldStillGetsHeader(t *testing.T) {
	// A fixed-length type that is NOT in a positional slot (here,
	// TypePublicKey appearing in the content region of a frozen cube,
	// which only makes PublicKey positional for MUCs) must still carry
	// a 1-byte header so decompile can tell it apart from its neighbors.
	def, _ := fieldDefinitionFor(CubeTypeFrozen)
	fields := []Field{
		newField(TypeCubeType, []byte{byte(CubeTypeFrozen)}),
		newField(TypeDate, make([]byte, TimestampSize)),
		newField(TypePublicKey, make([]byte, PublicKeySize)),
		newField(TypePadding, make([]byte, 10)),
		newField(TypeNonce, make([]byte, NonceSize)),
	}
	buf, err := compile(fields, def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	decoded, err := decompile(buf, def)
	if err != nil {
		t.Fatalf("decompile: %v", err)
	}
	if !fieldsEqual(fields, decoded, def, EqualOrdered, false) {
		t.Fatalf("middle fixed-length field round trip mismatch:\n  in:  %+v\n  out: %+v", fields, decoded)
	}
}

func TestDecompileStopsAtPadding(t *testing.T) {
	def, _ := fieldDefinitionFor(CubeTypeFrozen)
	fields := []Field{
		newField(TypeCubeType, []byte{byte(CubeTypeFrozen)}),
		newField(TypeDate, make([]byte, TimestampSize)),
		newField(TypePayload, []byte("payload")),
		newField(TypePadding, make([]byte, 20)),
		newField(TypeNonce, make([]byte, NonceSize)),
	}
	buf, err := compile(fields, def)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	decoded, err := decompile(buf, def)
	if err != nil {
		t.Fatalf("decompile: %v", err)
	}
	for _, f := range decoded {
		if f.Type == TypePadding {
			return
		}
	}
	t.Fatal("expected decoded fields to include the stop (padding) field")
}
