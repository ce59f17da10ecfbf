package recordstore

import "errors"

var (
	// ErrNotFound is returned by get for a key the store has no record of.
	ErrNotFound = errors.New("recordstore: not found")

	// ErrTooLarge is returned by put when a value exceeds MaxPacketSize.
	ErrTooLarge = errors.New("recordstore: value exceeds max packet size")

	// ErrOutOfRange is returned by put when the key falls outside the
	// node's responsibility radius, or the store is full and the key is
	// farther than the farthest currently held.
	ErrOutOfRange = errors.New("recordstore: key outside responsibility radius")
)

// DoubleSpendError wraps the conflicting pair surfaced from get(key) once a
// key has been poisoned; it is a signal, not a fault, so callers type-assert
// rather than treat it as a failed read.
type DoubleSpendError struct {
	A, B []byte
}

func (e *DoubleSpendError) Error() string {
	return "recordstore: double spend recorded at key"
}
