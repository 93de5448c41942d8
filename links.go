package nif

import (
	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/schema"
)

// NiAVObject/NiTriBasedGeom/NiSkinInstance fields this package reads
// directly, pre-transcode, in order to find a shape's packed-geometry and
// skin links before the generic field walker swaps anything (the walker
// rewrites in place and has no read-only pass). The field order follows
// those types' entries in internal/schema/data/nif.xml; the constants below
// are the version thresholds of their version-gated fields.
const (
	extraDataListVersion = 0x14010003
	skinInstanceVersion  = 0x0A000100
	skinPartitionVersion = 0x0A010000
)

// shapeLinks is what one NiTriShape/NiTriStrips block points at.
type shapeLinks struct {
	dataRef         int32
	skinInstanceRef int32
	extraDataRefs   []int32
}

// scanShapeLinks reads a NiTriShape/NiTriStrips block's Data, Skin Instance
// and Extra Data List ref fields directly from the big-endian source bytes,
// following NiAVObject's then NiTriBasedGeom's field list in order.
func scanShapeLinks(buf []byte, blockOffset int, vt schema.VersionTriple) (shapeLinks, error) {
	pos := blockOffset
	pos += 4  // Name (StringIndex)
	pos += 2  // Flags
	pos += 12 // Translation (Vector3)
	pos += 36 // Rotation (Matrix33)
	pos += 4  // Scale

	numProperties, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return shapeLinks{}, err
	}
	pos += 4
	pos += 4 * int(numProperties)

	var extraDataRefs []int32
	if vt.Version >= extraDataListVersion {
		numExtra, err := ioprim.ReadU32BE(buf, pos)
		if err != nil {
			return shapeLinks{}, err
		}
		pos += 4
		extraDataRefs = make([]int32, numExtra)
		for i := range extraDataRefs {
			v, err := ioprim.ReadU32BE(buf, pos)
			if err != nil {
				return shapeLinks{}, err
			}
			extraDataRefs[i] = int32(v)
			pos += 4
		}
	}

	dataRefU, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return shapeLinks{}, err
	}
	pos += 4

	skinInstanceRef := int32(-1)
	if vt.Version >= skinInstanceVersion {
		v, err := ioprim.ReadU32BE(buf, pos)
		if err != nil {
			return shapeLinks{}, err
		}
		skinInstanceRef = int32(v)
	}

	return shapeLinks{
		dataRef:         int32(dataRefU),
		skinInstanceRef: skinInstanceRef,
		extraDataRefs:   extraDataRefs,
	}, nil
}

// scanSkinPartitionRef reads a NiSkinInstance block's Skin Partition ref
// field directly from the big-endian source bytes. Returns -1 when the
// version predates the field.
func scanSkinPartitionRef(buf []byte, blockOffset int, vt schema.VersionTriple) (int32, error) {
	pos := blockOffset
	pos += 4 // Data
	if vt.Version < skinPartitionVersion {
		return -1, nil
	}
	v, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return -1, err
	}
	return int32(v), nil
}
