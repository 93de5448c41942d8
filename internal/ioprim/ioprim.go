// Package ioprim implements endian-aware read/write/swap primitives over an
// indexed byte buffer, plus IEEE-754 binary16<->binary32 conversion. It is
// the lowest layer of the transcoder: every other internal package reads
// and rewrites NIF bytes through these functions so that bounds-checking
// behavior (a recoverable "truncated" error on overflow, never a panic) is
// uniform across the container parser, block transcoder and expanders.
package ioprim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nif360/transcoder/internal/utils"
)

// errTruncated builds a bounds-check failure the same way everywhere.
func errTruncated(op string, pos, need, bufLen int) error {
	return utils.WrapError(utils.KindTruncatedInput, op,
		fmt.Errorf("need %d byte(s) at offset %d, buffer has %d", need, pos, bufLen))
}

func checkBounds(buf []byte, pos, width int, op string) error {
	if pos < 0 || width < 0 || pos+width > len(buf) {
		return errTruncated(op, pos, width, len(buf))
	}
	return nil
}

// ReadU8 reads a single byte at pos.
func ReadU8(buf []byte, pos int) (uint8, error) {
	if err := checkBounds(buf, pos, 1, "read u8"); err != nil {
		return 0, err
	}
	return buf[pos], nil
}

// ReadU16LE reads a little-endian uint16 at pos.
func ReadU16LE(buf []byte, pos int) (uint16, error) {
	if err := checkBounds(buf, pos, 2, "read u16 le"); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[pos : pos+2]), nil
}

// ReadU16BE reads a big-endian uint16 at pos.
func ReadU16BE(buf []byte, pos int) (uint16, error) {
	if err := checkBounds(buf, pos, 2, "read u16 be"); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[pos : pos+2]), nil
}

// ReadU32LE reads a little-endian uint32 at pos.
func ReadU32LE(buf []byte, pos int) (uint32, error) {
	if err := checkBounds(buf, pos, 4, "read u32 le"); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[pos : pos+4]), nil
}

// ReadU32BE reads a big-endian uint32 at pos.
func ReadU32BE(buf []byte, pos int) (uint32, error) {
	if err := checkBounds(buf, pos, 4, "read u32 be"); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[pos : pos+4]), nil
}

// ReadU64LE reads a little-endian uint64 at pos.
func ReadU64LE(buf []byte, pos int) (uint64, error) {
	if err := checkBounds(buf, pos, 8, "read u64 le"); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[pos : pos+8]), nil
}

// ReadU64BE reads a big-endian uint64 at pos.
func ReadU64BE(buf []byte, pos int) (uint64, error) {
	if err := checkBounds(buf, pos, 8, "read u64 be"); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[pos : pos+8]), nil
}

// ReadF32LE reads a little-endian IEEE-754 binary32 at pos.
func ReadF32LE(buf []byte, pos int) (float32, error) {
	bits, err := ReadU32LE(buf, pos)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ReadF32BE reads a big-endian IEEE-754 binary32 at pos.
func ReadF32BE(buf []byte, pos int) (float32, error) {
	bits, err := ReadU32BE(buf, pos)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// WriteU16LE writes a little-endian uint16 at pos.
func WriteU16LE(buf []byte, pos int, v uint16) error {
	if err := checkBounds(buf, pos, 2, "write u16 le"); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(buf[pos:pos+2], v)
	return nil
}

// WriteU32LE writes a little-endian uint32 at pos.
func WriteU32LE(buf []byte, pos int, v uint32) error {
	if err := checkBounds(buf, pos, 4, "write u32 le"); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[pos:pos+4], v)
	return nil
}

// WriteU64LE writes a little-endian uint64 at pos.
func WriteU64LE(buf []byte, pos int, v uint64) error {
	if err := checkBounds(buf, pos, 8, "write u64 le"); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[pos:pos+8], v)
	return nil
}

// WriteF32LE writes a little-endian IEEE-754 binary32 at pos.
func WriteF32LE(buf []byte, pos int, v float32) error {
	return WriteU32LE(buf, pos, math.Float32bits(v))
}

// SwapWidth byte-swaps a width-w field in place at pos. width must be one of
// 1 (no-op), 2, 4, or 8; any other width is a programming error in the
// caller (schema field widths are validated at schema load time).
func SwapWidth(buf []byte, pos, width int) error {
	if err := checkBounds(buf, pos, width, "swap"); err != nil {
		return err
	}
	switch width {
	case 1:
		// no-op
	case 2:
		buf[pos], buf[pos+1] = buf[pos+1], buf[pos]
	case 4:
		buf[pos], buf[pos+1], buf[pos+2], buf[pos+3] =
			buf[pos+3], buf[pos+2], buf[pos+1], buf[pos]
	case 8:
		for i := 0; i < 4; i++ {
			buf[pos+i], buf[pos+7-i] = buf[pos+7-i], buf[pos+i]
		}
	default:
		return fmt.Errorf("ioprim: unsupported swap width %d", width)
	}
	return nil
}

// HalfToFloat32 converts an IEEE-754 binary16 value (as its raw bit
// pattern) to binary32 by sign|exponent|mantissa reassembly:
// sign | (exp+112)<<23 | mant<<13, with denormals renormalized and
// exp==31 mapped to +/-Inf or NaN.
func HalfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h&0x7C00) >> 10
	mant := uint32(h & 0x03FF)

	switch {
	case exp == 0:
		if mant == 0 {
			// Signed zero.
			return math.Float32frombits(sign)
		}
		// Denormal half: renormalize into a normal float32.
		exp = 1
		for mant&0x0400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x03FF
		bits := sign | ((exp + 112) << 23) | (mant << 13)
		return math.Float32frombits(bits)
	case exp == 31:
		if mant == 0 {
			// +/-Inf.
			return math.Float32frombits(sign | 0x7F800000)
		}
		// NaN; preserve the mantissa's "quiet" bit pattern shifted up.
		return math.Float32frombits(sign | 0x7F800000 | (mant << 13))
	default:
		bits := sign | ((exp + 112) << 23) | (mant << 13)
		return math.Float32frombits(bits)
	}
}

// Float32ToHalf converts a binary32 value to its nearest IEEE-754 binary16
// bit pattern, rounding to nearest-even on mantissa truncation. Used by
// test fixture builders that synthesize packed-geometry half-precision
// streams; the transcoder itself never needs to narrow a converted value
// back down (PC form is always full precision).
func Float32ToHalf(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16((bits >> 16) & 0x8000)
	exp := int32((bits>>23)&0xFF) - 127 + 15
	mant := bits & 0x7FFFFF

	switch {
	case (bits>>23)&0xFF == 0xFF:
		// Inf/NaN.
		if mant != 0 {
			return sign | 0x7C00 | 0x0200
		}
		return sign | 0x7C00
	case exp >= 0x1F:
		// Overflow to Inf.
		return sign | 0x7C00
	case exp <= 0:
		// Underflow to zero (denormal half support is not needed for the
		// vertex/normal/UV ranges this format actually carries).
		return sign
	default:
		//nolint:gosec // truncation to half precision is intentional
		h := sign | uint16(exp<<10) | uint16(mant>>13)
		// Round to nearest, ties to even; a carry out of the mantissa bumps
		// the exponent (up to Inf), which is the correct rounded result.
		rem := mant & 0x1FFF
		if rem > 0x1000 || (rem == 0x1000 && h&1 == 1) {
			h++
		}
		return h
	}
}

// ReadAt reads exactly n bytes at pos, returning a copy (never aliasing the
// caller's buffer, since the transcoder sometimes hands expanders a
// sub-slice view).
func ReadAt(buf []byte, pos, n int) ([]byte, error) {
	if err := checkBounds(buf, pos, n, "read at"); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[pos:pos+n])
	return out, nil
}

// ReadInto bounds-checks and copies len(dst) bytes from buf at pos into dst,
// for callers that already hold a scratch buffer (e.g. a pooled one) instead
// of wanting ReadAt to allocate a fresh copy.
func ReadInto(buf []byte, pos int, dst []byte) error {
	if err := checkBounds(buf, pos, len(dst), "read into"); err != nil {
		return err
	}
	copy(dst, buf[pos:pos+len(dst)])
	return nil
}
