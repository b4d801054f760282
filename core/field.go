package core

import (
	"fmt"
)

// FieldType is a 6-bit type tag (0-63). Values above 63 cannot be
// represented in the high 6 bits of a header byte and are rejected by
// compile/decompile (spec.md §4.B: "type codes above 0xFC are
// forbidden" — 0xFC is 0x3F<<2, the maximum encodable tag already
// shifted into header position).
type FieldType uint8

const maxFieldType FieldType = 0x3F

// Field is a single TLV (or positional) field. Start is the field's
// offset within a compiled binary once known; it is -1 for a field
// that has not yet been finalized by compile/decompile.
type Field struct {
	Type  FieldType
	Value []byte
	Start int
}

func newField(t FieldType, value []byte) Field {
	return Field{Type: t, Value: value, Start: -1}
}

// FieldDefinition describes the static layout rules a Fields collection
// must obey: which type codes are front/back positional (and in what
// order), which types have an implicit fixed length, and the optional
// stop/remainder field pair.
type FieldDefinition struct {
	Name string

	// PositionalFront/PositionalBack give the type code expected at
	// each running index from the start/end of a compiled binary.
	PositionalFront []FieldType
	PositionalBack  []FieldType

	// FixedLength maps a type code to its implicit (headerless) length.
	// Types present here never carry a length prefix, whether they
	// appear positionally or as a typed/tagged field.
	FixedLength map[FieldType]int

	HasStopField bool
	StopField    FieldType

	HasRemainderField bool
	RemainderField    FieldType
}

func (def *FieldDefinition) fixedLen(t FieldType) (int, bool) {
	n, ok := def.FixedLength[t]
	return n, ok
}

func (def *FieldDefinition) isReserved(t FieldType) bool {
	switch t {
	case TypeKeyDistribution, TypeSharedKey, TypeEncrypted:
		return true
	default:
		return false
	}
}

// headerSize returns the number of header bytes a typed (non-positional)
// field of type t with the given value length would need: 1 byte for a
// fixed-length type, 2 bytes (6-bit type + 10-bit length) otherwise.
func (def *FieldDefinition) headerSize(t FieldType, valueLen int) int {
	if _, ok := def.fixedLen(t); ok {
		return 1
	}
	_ = valueLen
	return 2
}

// compile writes fields (front positionals, then typed fields, then
// back positionals, in the order given) into a tightly packed buffer
// and records each field's Start offset. The caller is responsible for
// field ordering; compile does not reorder, it only validates and lays
// out. Total output size is the exact sum of header+value bytes — any
// padding to a fixed record size (e.g. CUBE_SIZE) must already be
// present in the field list as its own field.
func compile(fields []Field, def *FieldDefinition) ([]byte, error) {
	nFront := len(def.PositionalFront)
	nBack := len(def.PositionalBack)
	if len(fields) < nFront+nBack {
		return nil, fmt.Errorf("%w: %d fields shorter than the %d positional slots required", ErrAPIMisuse, len(fields), nFront+nBack)
	}
	isPositionalIdx := func(i int) bool { return i < nFront || i >= len(fields)-nBack }
	// expectedPositionalType returns the type code def requires at index
	// i, which isPositionalIdx has already confirmed is a positional
	// slot (front by running index, else back by running index from the
	// tail).
	expectedPositionalType := func(i int) FieldType {
		if i < nFront {
			return def.PositionalFront[i]
		}
		return def.PositionalBack[i-(len(fields)-nBack)]
	}

	total := 0
	for i, f := range fields {
		if f.Type > maxFieldType {
			return nil, fmt.Errorf("%w: type %d", ErrUnknownFieldType, f.Type)
		}
		if def.isReserved(f.Type) {
			return nil, fmt.Errorf("%w: type %d", ErrFieldNotImplemented, f.Type)
		}
		if isPositionalIdx(i) {
			want := expectedPositionalType(i)
			if f.Type != want {
				return nil, fmt.Errorf("%w: positional slot %d expected type %d, got %d", ErrWrongFieldType, i, want, f.Type)
			}
			n, ok := def.fixedLen(f.Type)
			if !ok || len(f.Value) != n {
				return nil, fmt.Errorf("%w: positional type %d expected %d bytes, got %d", ErrFieldSize, f.Type, n, len(f.Value))
			}
			total += n
			continue
		}
		if n, ok := def.fixedLen(f.Type); ok {
			if len(f.Value) != n {
				return nil, fmt.Errorf("%w: type %d expected %d bytes, got %d", ErrFieldSize, f.Type, n, len(f.Value))
			}
			total += 1 + n
			continue
		}
		if len(f.Value) > 0x3FF {
			return nil, fmt.Errorf("%w: type %d value too long for 10-bit length (%d)", ErrFieldSize, f.Type, len(f.Value))
		}
		total += 2 + len(f.Value)
	}

	buf := make([]byte, total)
	offset := 0
	for i := range fields {
		f := &fields[i]
		if isPositionalIdx(i) {
			n, _ := def.fixedLen(f.Type)
			copy(buf[offset:offset+n], f.Value)
			f.Start = offset
			offset += n
			continue
		}
		if n, ok := def.fixedLen(f.Type); ok {
			buf[offset] = byte(f.Type << 2)
			f.Start = offset
			offset++
			copy(buf[offset:offset+n], f.Value)
			offset += n
			continue
		}
		header0 := byte(f.Type<<2) | byte((len(f.Value)>>8)&0x3)
		header1 := byte(len(f.Value) & 0xFF)
		buf[offset] = header0
		buf[offset+1] = header1
		f.Start = offset
		offset += 2
		copy(buf[offset:offset+len(f.Value)], f.Value)
		offset += len(f.Value)
	}

	if offset != total {
		return nil, fmt.Errorf("%w: wrote %d bytes, expected %d", ErrBinaryLength, offset, total)
	}
	return buf, nil
}

// decompile parses data according to def: back positionals are stripped
// from the tail first (their lengths are known statically), then front
// positionals are read by running index from the head, then the
// remaining middle region is parsed as a sequence of typed TLV fields
// until either the buffer is exhausted or the stop field (if any) is
// encountered. When a remainder field is configured, any bytes left
// over in the middle region after the stop field are exposed as one
// synthetic field of that type.
func decompile(data []byte, def *FieldDefinition) ([]Field, error) {
	backLen := 0
	for _, t := range def.PositionalBack {
		n, ok := def.fixedLen(t)
		if !ok {
			return nil, fmt.Errorf("%w: back positional type %d has no fixed length", ErrAPIMisuse, t)
		}
		backLen += n
	}
	frontLen := 0
	for _, t := range def.PositionalFront {
		n, ok := def.fixedLen(t)
		if !ok {
			return nil, fmt.Errorf("%w: front positional type %d has no fixed length", ErrAPIMisuse, t)
		}
		frontLen += n
	}
	if len(data) < frontLen+backLen {
		return nil, fmt.Errorf("%w: %d bytes too short for positional fields (front %d, back %d)", ErrBinaryLength, len(data), frontLen, backLen)
	}

	var fields []Field

	offset := 0
	for _, t := range def.PositionalFront {
		n, _ := def.fixedLen(t)
		fields = append(fields, Field{Type: t, Value: append([]byte(nil), data[offset:offset+n]...), Start: offset})
		offset += n
	}

	middleEnd := len(data) - backLen
	middle := data[offset:middleEnd]

	stopped := false
	mi := 0
	for mi < len(middle) {
		if len(middle)-mi < 1 {
			break
		}
		header0 := middle[mi]
		t := FieldType(header0 >> 2)
		if t > maxFieldType {
			return nil, fmt.Errorf("%w: type %d", ErrUnknownFieldType, t)
		}
		if def.isReserved(t) {
			return nil, fmt.Errorf("%w: type %d", ErrFieldNotImplemented, t)
		}

		var headerLen, valueLen int
		if n, ok := def.fixedLen(t); ok {
			headerLen = 1
			valueLen = n
		} else {
			if len(middle)-mi < 2 {
				return nil, fmt.Errorf("%w: truncated field header", ErrBinaryLength)
			}
			header1 := middle[mi+1]
			valueLen = (int(header0&0x3) << 8) | int(header1)
			headerLen = 2
		}
		if mi+headerLen+valueLen > len(middle) {
			return nil, fmt.Errorf("%w: field type %d value overruns buffer", ErrBinaryLength, t)
		}
		valStart := mi + headerLen
		fields = append(fields, Field{
			Type:  t,
			Value: append([]byte(nil), middle[valStart:valStart+valueLen]...),
			Start: offset + mi,
		})
		mi = valStart + valueLen

		if def.HasStopField && t == def.StopField {
			stopped = true
			break
		}
	}

	if stopped && def.HasRemainderField && mi < len(middle) {
		fields = append(fields, Field{
			Type:  def.RemainderField,
			Value: append([]byte(nil), middle[mi:]...),
			Start: offset + mi,
		})
		mi = len(middle)
	}

	// Anything between the end of TLV parsing and the back positional
	// region that wasn't captured (only possible if stopped without a
	// remainder field) is intentionally ignored per spec.md §4.B:
	// "content after it is ignored semantically".
	offset = middleEnd

	for _, t := range def.PositionalBack {
		n, _ := def.fixedLen(t)
		fields = append(fields, Field{Type: t, Value: append([]byte(nil), data[offset:offset+n]...), Start: offset})
		offset += n
	}

	return fields, nil
}

// --- insertion helpers -----------------------------------------------

// insertAfterFrontPositionals inserts f immediately after the last
// front-positional field in fields, preserving positional invariants.
func insertAfterFrontPositionals(fields []Field, def *FieldDefinition, f Field) []Field {
	idx := len(def.PositionalFront)
	if idx > len(fields) {
		idx = len(fields)
	}
	out := make([]Field, 0, len(fields)+1)
	out = append(out, fields[:idx]...)
	out = append(out, f)
	out = append(out, fields[idx:]...)
	return out
}

// insertBeforeBackPositionals inserts f immediately before the first
// back-positional field in fields.
func insertBeforeBackPositionals(fields []Field, def *FieldDefinition, f Field) []Field {
	idx := len(fields) - len(def.PositionalBack)
	if idx < 0 {
		idx = 0
	}
	out := make([]Field, 0, len(fields)+1)
	out = append(out, fields[:idx]...)
	out = append(out, f)
	out = append(out, fields[idx:]...)
	return out
}

// ensureFieldInFront replaces or appends the running-index front
// positional slot for t.
func ensureFieldInFront(fields []Field, def *FieldDefinition, t FieldType, value []byte) ([]Field, error) {
	idx := -1
	for i, pt := range def.PositionalFront {
		if pt == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %d is not a front positional type", ErrAPIMisuse, t)
	}
	for len(fields) <= idx {
		fields = append(fields, Field{})
	}
	fields[idx] = Field{Type: t, Value: value, Start: -1}
	return fields, nil
}

// ensureFieldInBack replaces or appends the running-index back
// positional slot for t, counted from the end of def.PositionalBack.
func ensureFieldInBack(fields []Field, def *FieldDefinition, t FieldType, value []byte) ([]Field, error) {
	idx := -1
	for i, pt := range def.PositionalBack {
		if pt == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %d is not a back positional type", ErrAPIMisuse, t)
	}
	base := len(fields) - len(def.PositionalBack)
	if base < 0 {
		base = 0
	}
	pos := base + idx
	for len(fields) <= pos {
		fields = append(fields, Field{})
	}
	fields[pos] = Field{Type: t, Value: value, Start: -1}
	return fields, nil
}

// --- equality metrics ---------------------------------------------------

// EqualityMode selects how two Fields collections are compared.
type EqualityMode int

const (
	// EqualOrderedWithOffset requires identical order and identical
	// Start offsets.
	EqualOrderedWithOffset EqualityMode = iota
	// EqualOrdered requires identical order, ignoring offsets.
	EqualOrdered
	// EqualIgnoreOrder compares as multisets of (type, value).
	EqualIgnoreOrder
)

// fieldsEqual compares two field slices under mode. When
// ignoreDisregarded is true, non-positional fields after the stop
// field and the remainder field itself are omitted from both sides
// before comparing (spec.md §4.B).
func fieldsEqual(a, b []Field, def *FieldDefinition, mode EqualityMode, ignoreDisregarded bool) bool {
	if ignoreDisregarded {
		a = disregardTrailing(a, def)
		b = disregardTrailing(b, def)
	}
	switch mode {
	case EqualOrderedWithOffset:
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Type != b[i].Type || a[i].Start != b[i].Start || !bytesEqual(a[i].Value, b[i].Value) {
				return false
			}
		}
		return true
	case EqualOrdered:
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Type != b[i].Type || !bytesEqual(a[i].Value, b[i].Value) {
				return false
			}
		}
		return true
	case EqualIgnoreOrder:
		if len(a) != len(b) {
			return false
		}
		used := make([]bool, len(b))
		for _, fa := range a {
			found := false
			for j, fb := range b {
				if used[j] {
					continue
				}
				if fa.Type == fb.Type && bytesEqual(fa.Value, fb.Value) {
					used[j] = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func disregardTrailing(fields []Field, def *FieldDefinition) []Field {
	if !def.HasStopField {
		return fields
	}
	out := make([]Field, 0, len(fields))
	stopped := false
	for _, f := range fields {
		if stopped {
			if def.HasRemainderField && f.Type == def.RemainderField {
				continue
			}
			if isPositional(f.Type, def) {
				out = append(out, f)
				continue
			}
			continue
		}
		out = append(out, f)
		if f.Type == def.StopField {
			stopped = true
		}
	}
	return out
}

func isPositional(t FieldType, def *FieldDefinition) bool {
	for _, pt := range def.PositionalFront {
		if pt == t {
			return true
		}
	}
	for _, pt := range def.PositionalBack {
		if pt == t {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
