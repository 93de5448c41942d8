// Package havok decodes and re-encodes hkPackedNiTriStripsData blocks: the
// Havok collision-geometry block that optionally compresses its vertex
// array down to half-precision on the Xbox side. Unlike ordinary blocks
// (handled generically by internal/transcode), this block's internal array
// layout is fixed and version-independent, so it is parsed and rewritten by
// a dedicated decoder rather than the schema walker.
package havok

import (
	"fmt"

	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/utils"
)

const (
	triangleRecordSize = 8 // v1,v2,v3 (u16 each) + welding info (u16)
	subShapeRecordSize = 8 // layer(u16) + numTriangles(u16) + material(u32)
)

// Expansion records the growth hkPackedNiTriStripsData undergoes when its
// vertex array is stored half-precision on the Xbox side.
type Expansion struct {
	BlockIndex       int
	NumTriangles     int
	NumVertices      int
	NumSubShapes     int
	Compressed       bool
	OriginalSize     int
	NewSize          int
	VertexDataOffset int // offset of the vertex array, relative to block start
	TailOffset       int // offset of the sub-shape count field, relative to block start (pre-expansion)
}

// Scan parses a hkPackedNiTriStripsData block's header far enough to locate
// and size its vertex array. It always succeeds for a well-formed block,
// compressed or not: the dedicated Write path below handles both, so the
// writer never needs to fall back to a lossy bulk swap for this type.
func Scan(buf []byte, blockIndex, blockOffset, blockSize int) (*Expansion, error) {
	pos := blockOffset
	numTri, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "havok num triangles", err)
	}
	pos += 4
	pos += int(numTri) * triangleRecordSize

	numVert, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "havok num vertices", err)
	}
	pos += 4

	compressedByte, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "havok compressed flag", err)
	}
	pos++

	vertexDataOffset := pos - blockOffset
	compressed := compressedByte != 0
	vertexBytes := 12
	if compressed {
		vertexBytes = 6
	}
	tailOffset := vertexDataOffset + vertexBytes*int(numVert)

	numSub, err := ioprim.ReadU16BE(buf, blockOffset+tailOffset)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "havok num sub shapes", err)
	}

	newSize := blockSize
	if compressed {
		newSize = blockSize + 6*int(numVert)
	}

	return &Expansion{
		BlockIndex:       blockIndex,
		NumTriangles:     int(numTri),
		NumVertices:      int(numVert),
		NumSubShapes:     int(numSub),
		Compressed:       compressed,
		OriginalSize:     blockSize,
		NewSize:          newSize,
		VertexDataOffset: vertexDataOffset,
		TailOffset:       tailOffset,
	}, nil
}

// Write emits the little-endian, always-uncompressed form of the block into
// dst starting at dstOffset, reading the original big-endian bytes from
// src[blockOffset:blockOffset+blockSize]. Returns the number of bytes
// written, which equals exp.NewSize.
func Write(dst []byte, dstOffset int, src []byte, blockOffset, blockSize int, exp *Expansion) (int, error) {
	pos := dstOffset
	srcPos := blockOffset

	// Triangle records: v1,v2,v3,weldingInfo, all u16.
	if err := ioprim.WriteU32LE(dst, pos, uint32(exp.NumTriangles)); err != nil {
		return 0, err
	}
	pos += 4
	srcPos += 4
	for i := 0; i < exp.NumTriangles; i++ {
		for j := 0; j < 4; j++ {
			v, err := ioprim.ReadU16BE(src, srcPos)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok triangle record", err)
			}
			if err := ioprim.WriteU16LE(dst, pos, v); err != nil {
				return 0, err
			}
			pos += 2
			srcPos += 2
		}
	}

	if err := ioprim.WriteU32LE(dst, pos, uint32(exp.NumVertices)); err != nil {
		return 0, err
	}
	pos += 4
	srcPos += 4

	dst[pos] = 0 // compressed always cleared in PC output
	pos++
	srcPos++

	for i := 0; i < exp.NumVertices; i++ {
		var x, y, z float32
		if exp.Compressed {
			hx, err := ioprim.ReadU16BE(src, srcPos)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok vertex", err)
			}
			hy, err := ioprim.ReadU16BE(src, srcPos+2)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok vertex", err)
			}
			hz, err := ioprim.ReadU16BE(src, srcPos+4)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok vertex", err)
			}
			x, y, z = ioprim.HalfToFloat32(hx), ioprim.HalfToFloat32(hy), ioprim.HalfToFloat32(hz)
			srcPos += 6
		} else {
			bx, err := ioprim.ReadF32BE(src, srcPos)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok vertex", err)
			}
			by, err := ioprim.ReadF32BE(src, srcPos+4)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok vertex", err)
			}
			bz, err := ioprim.ReadF32BE(src, srcPos+8)
			if err != nil {
				return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok vertex", err)
			}
			x, y, z = bx, by, bz
			srcPos += 12
		}
		if err := ioprim.WriteF32LE(dst, pos, x); err != nil {
			return 0, err
		}
		if err := ioprim.WriteF32LE(dst, pos+4, y); err != nil {
			return 0, err
		}
		if err := ioprim.WriteF32LE(dst, pos+8, z); err != nil {
			return 0, err
		}
		pos += 12
	}

	if err := ioprim.WriteU16LE(dst, pos, uint16(exp.NumSubShapes)); err != nil {
		return 0, err
	}
	pos += 2
	srcPos += 2

	for i := 0; i < exp.NumSubShapes; i++ {
		layer, err := ioprim.ReadU16BE(src, srcPos)
		if err != nil {
			return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok sub shape", err)
		}
		numT, err := ioprim.ReadU16BE(src, srcPos+2)
		if err != nil {
			return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok sub shape", err)
		}
		material, err := ioprim.ReadU32BE(src, srcPos+4)
		if err != nil {
			return 0, utils.WrapError(utils.KindExpanderParseFailure, "havok sub shape", err)
		}
		if err := ioprim.WriteU16LE(dst, pos, layer); err != nil {
			return 0, err
		}
		if err := ioprim.WriteU16LE(dst, pos+2, numT); err != nil {
			return 0, err
		}
		if err := ioprim.WriteU32LE(dst, pos+4, material); err != nil {
			return 0, err
		}
		pos += subShapeRecordSize
		srcPos += subShapeRecordSize
	}

	written := pos - dstOffset
	if written != exp.NewSize {
		return 0, utils.NewError(utils.KindInternalInvariantViolation,
			fmt.Sprintf("havok block %d: wrote %d bytes, expected %d", exp.BlockIndex, written, exp.NewSize))
	}
	return written, nil
}
