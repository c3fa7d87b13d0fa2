// Package sizing provides overflow-checked arithmetic for on-disk offsets.
package sizing

import "math"

// ToInt converts a uint64 to int, returning overflowErr if it doesn't fit.
func ToInt(size uint64, overflowErr error) (int, error) {
	if size > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// Offset returns base+rel as an int64 file offset.
// It returns overflowErr if rel or the sum does not fit.
func Offset(base int64, rel uint64, overflowErr error) (int64, error) {
	r, err := ToInt64(rel, overflowErr)
	if err != nil {
		return 0, err
	}
	if base < 0 || r > math.MaxInt64-base {
		return 0, overflowErr
	}
	return base + r, nil
}
