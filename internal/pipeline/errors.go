package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPipeline matches every build-time validation failure other
	// than template errors, which are prompt.RenderError values.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrCapability matches every CapabilityError.
	ErrCapability = errors.New("capability failed")

	// ErrEmptyOutput is the cause recorded when a worker returns blank text.
	ErrEmptyOutput = errors.New("empty output")
)

// CapabilityError is a stage failure caused by the reasoning capability:
// an error, a timeout or an empty result.
type CapabilityError struct {
	Stage  string
	Worker string
	Err    error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("stage %s (worker %s): %v", e.Stage, e.Worker, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) Is(target error) bool { return target == ErrCapability }

// ErrorMarker is the result text stored for a failed stage.
func ErrorMarker(stage string, cause error) string {
	return fmt.Sprintf("[stage %s failed: %v]", stage, cause)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPipeline, fmt.Sprintf(format, args...))
}
