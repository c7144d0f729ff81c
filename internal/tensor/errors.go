package tensor

import "fmt"

// ShapeError reports a reshape, transpose, or dimension-compatibility
// violation. Shape utilities never silently pad or truncate; they fail with
// a ShapeError instead.
type ShapeError struct {
	Op     string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// shapeErrorf builds a ShapeError with a formatted detail message.
func shapeErrorf(op, format string, args ...any) error {
	return &ShapeError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ResourceError reports that a requested computation exceeds a hard
// implementation capacity (for example a normalization row wider than the
// tiling ceiling). It is surfaced, not retried: no tiling strategy can
// satisfy the request without a capacity increase.
type ResourceError struct {
	Op     string
	Detail string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}
