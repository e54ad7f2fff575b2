package index

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotBuilt means no generation exists and none could be built.
	ErrIndexNotBuilt = errors.New("index not built")

	// ErrCorrupt means source data or stored records are unusable.
	ErrCorrupt = errors.New("index data corrupt")

	// ErrInvalidName is returned for collection names outside [a-z0-9_]{1,64}.
	ErrInvalidName = errors.New("invalid collection name")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IndexError records the operation and collection that failed.
type IndexError struct {
	Op         string
	Collection string
	Err        error
}

func (e *IndexError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("index %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("index %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }
