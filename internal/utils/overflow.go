package utils

import (
	"fmt"
	"math"
)

// Common buffer and count limits enforced while parsing and re-laying-out a
// NIF container, per the container parser's bounds policy.
const (
	// MaxBlockSize rejects any single block larger than this many bytes.
	MaxBlockSize = 50 * 1024 * 1024 // 50 MiB
	// MaxBlocks rejects containers declaring more than this many blocks.
	MaxBlocks = 100000
)

// CheckMultiplyOverflow reports whether multiplying two uint64 values would
// overflow, without performing the multiplication.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}
	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeMultiply multiplies two uint64 values, failing on overflow.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// SafeAdd adds two uint64 values, failing on overflow.
func SafeAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("addition overflow: %d + %d exceeds uint64 max", a, b)
	}
	return a + b, nil
}

// CalculateExpandedSize safely computes a block's new size given its
// original size and a signed per-element delta applied elementCount times
// (e.g. the 6-byte-per-vertex growth when unpacking half3 positions to
// float3). A negative delta (block shrinkage, e.g. a removed triangle
// strip-length table) is also supported.
func CalculateExpandedSize(originalSize uint64, elementCount uint64, perElementDelta int64) (uint64, error) {
	if perElementDelta == 0 {
		return originalSize, nil
	}

	if perElementDelta > 0 {
		growth, err := SafeMultiply(elementCount, uint64(perElementDelta))
		if err != nil {
			return 0, fmt.Errorf("expansion size overflow: %w", err)
		}
		total, err := SafeAdd(originalSize, growth)
		if err != nil {
			return 0, fmt.Errorf("expansion size overflow: %w", err)
		}
		return total, nil
	}

	shrink, err := SafeMultiply(elementCount, uint64(-perElementDelta))
	if err != nil {
		return 0, fmt.Errorf("expansion size overflow: %w", err)
	}
	if shrink > originalSize {
		return 0, fmt.Errorf("expansion size underflow: shrink %d exceeds original size %d", shrink, originalSize)
	}
	return originalSize - shrink, nil
}

// ValidateBufferSize validates that a buffer size is within reasonable
// limits, with a human-readable description for error messages.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}

// SumBlockSizes sums a slice of block sizes with overflow checking, as used
// by the layout planner to compute the container's new total length.
func SumBlockSizes(sizes []uint64) (uint64, error) {
	total := uint64(0)
	for i, s := range sizes {
		var err error
		total, err = SafeAdd(total, s)
		if err != nil {
			return 0, fmt.Errorf("block size overflow at block %d: %w", i, err)
		}
	}
	return total, nil
}
