package rag

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNotFound is returned when a lookup has nothing to return.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch matches every *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidArgument is returned for empty queries, k <= 0, and empty or
	// non-finite vectors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmptyIndex is returned when querying an index with no entries.
	ErrEmptyIndex = fmt.Errorf("index is empty: %w", ErrNotFound)
)

// DimensionMismatchError reports a vector whose length differs from the
// dimension established by the index.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: index has %d dimensions, vector has %d", e.Expected, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDimension returns a *DimensionMismatchError when got differs from a
// non-zero expected dimension.
func CheckDimension(expected, got int) error {
	if expected != 0 && expected != got {
		return &DimensionMismatchError{Expected: expected, Got: got}
	}
	return nil
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CheckVector rejects empty vectors and vectors with NaN or infinite
// components, which would break distance ordering.
func CheckVector(vector []float32) error {
	if len(vector) == 0 {
		return invalidArgument("vector is empty")
	}
	for i, x := range vector {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return invalidArgument("vector component %d is not finite", i)
		}
	}
	return nil
}
