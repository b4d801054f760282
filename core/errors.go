package core

import "errors"

// Error kinds per spec.md §7. These are sentinels so callers can use
// errors.Is against a stable wrapped chain, in the same spirit as the
// ambient pkg/utils.Wrap helper used to add context on top.
var (
	ErrBinaryLength       = errors.New("cubenet: invalid binary length")
	ErrBinaryData         = errors.New("cubenet: invalid binary data")
	ErrFieldSize          = errors.New("cubenet: field size violation")
	ErrUnknownFieldType   = errors.New("cubenet: unknown field type")
	ErrWrongFieldType     = errors.New("cubenet: wrong field type")
	ErrFieldNotImplemented = errors.New("cubenet: field type not implemented")
	ErrCubeSignature      = errors.New("cubenet: invalid cube signature")
	ErrFingerprint        = errors.New("cubenet: fingerprint mismatch")
	ErrInsufficientDifficulty = errors.New("cubenet: insufficient hashcash difficulty")
	ErrAPIMisuse          = errors.New("cubenet: invalid API usage")
	ErrNetwork            = errors.New("cubenet: network error")
	ErrAddress            = errors.New("cubenet: invalid address")
	ErrPersistence        = errors.New("cubenet: persistence error")
)
