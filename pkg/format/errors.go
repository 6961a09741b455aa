package format

import "errors"

var (
	// ErrInvalidHeader indicates a truncated or internally inconsistent file header.
	ErrInvalidHeader = errors.New("invalid file header")
	// ErrInvalidMagic indicates the magic tag doesn't match the expected format family.
	ErrInvalidMagic = errors.New("invalid magic")
	// ErrMissingBase indicates a locale overlay was opened without its base file.
	ErrMissingBase = errors.New("overlay requires a base file")
	// ErrBoundsCheck indicates an out-of-bounds access attempt.
	ErrBoundsCheck = errors.New("offset out of bounds")
	// ErrRecordSizeMismatch indicates the declared record layout is wider than the on-disk record.
	ErrRecordSizeMismatch = errors.New("record size mismatch")
	// ErrMalformedStringBlock indicates a string without a terminating zero byte.
	ErrMalformedStringBlock = errors.New("malformed string block")
	// ErrNotSearchable indicates id lookups are impossible: no index and no known id field.
	ErrNotSearchable = errors.New("table is not searchable")
)
