package cfa

import "errors"

var (
	// ErrConvention means aggregation metadata is missing, malformed or
	// ambiguous. Decoding stops immediately.
	ErrConvention = errors.New("convention error")
	// ErrShapeMismatch means the fragments don't tile the declared shape
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrChunkGeometry is a bad chunk request, reported before any partition
	// is built
	ErrChunkGeometry = errors.New("invalid chunk geometry")
	// ErrIndex is a selection that can't be composed with a partition's
	// accumulated extent
	ErrIndex = errors.New("index error")

	// ErrSourceNotFound means none of a fragment's locations could be opened
	ErrSourceNotFound = errors.New("source not found")
	// ErrAddressNotFound means the opened source has no item at the
	// fragment's address
	ErrAddressNotFound = errors.New("address not found")
	// ErrExtentOutOfRange means the requested window doesn't fit the shape
	// of the data in the source
	ErrExtentOutOfRange = errors.New("extent out of range")

	// ErrUnits means values can't be converted between two unit strings
	ErrUnits = errors.New("incompatible units")
	// ErrUnsupported is a format, codec or data type this package can't read
	ErrUnsupported = errors.New("unsupported")
)
