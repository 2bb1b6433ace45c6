package store

import "errors"

var (
	// ErrNotFound means the referenced occurrence does not exist.
	ErrNotFound = errors.New("occurrence not found")
	// ErrAlreadyResolved means the occurrence already left PENDING; a caller
	// cannot resolve it a second time.
	ErrAlreadyResolved = errors.New("occurrence already resolved")
)
