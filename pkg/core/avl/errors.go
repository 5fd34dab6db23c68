package avl

import "errors"

var (
	// ErrMissingRoot is returned when the root a view is bound to can't be
	// found in the backing store.
	ErrMissingRoot = errors.New("missing root")
	// ErrMissingNode is returned when some node referenced from a valid root
	// is absent in the backing store which means the store is inconsistent.
	ErrMissingNode = errors.New("missing node")
	// ErrDecode is returned when stored node bytes can't be decoded.
	ErrDecode = errors.New("failed to decode node")
	// ErrKeyTooLong is returned on attempt to use a key longer than
	// MaxKeyLength.
	ErrKeyTooLong = errors.New("key is too long")
	// ErrValueTooLong is returned on attempt to store a value longer than
	// MaxValueLength.
	ErrValueTooLong = errors.New("value is too long")
)
