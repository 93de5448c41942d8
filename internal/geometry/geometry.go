// Package geometry decodes BSPackedAdditionalGeometryData blocks -- vertex
// streams the Xbox export side-loads out of NiTriShapeData -- and splices
// their decompressed arrays back into the geometry block they belong to.
// Like internal/havok and internal/skin, this is a fixed, version-
// independent binary layout handled by a dedicated decoder rather than the
// generic schema walker.
package geometry

import (
	"fmt"

	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/utils"
)

const (
	fmtHasUV     = 1 << 0
	fmtHasNormal = 1 << 1
	fmtHasColor  = 1 << 2
	fmtHasBones  = 1 << 3
)

// Vec3 is a decoded float3.
type Vec3 struct{ X, Y, Z float32 }

// Packed is the decoded content of one BSPackedAdditionalGeometryData block.
type Packed struct {
	BlockIndex  int
	VertexCount int
	Format      uint32
	Positions   []Vec3
	Normals     []Vec3
	UVs         [][2]float32
	BoneIndices [][4]byte
	BoneWeights [][4]float32
}

func (p *Packed) HasUV() bool     { return p.Format&fmtHasUV != 0 }
func (p *Packed) HasNormal() bool { return p.Format&fmtHasNormal != 0 }
func (p *Packed) HasColor() bool  { return p.Format&fmtHasColor != 0 }
func (p *Packed) HasBones() bool  { return p.Format&fmtHasBones != 0 }

// ScanPacked decodes a BSPackedAdditionalGeometryData block:
//
//	vertex_count: u32
//	format:       u32 (bit0 uv, bit1 normal, bit2 color, bit3 bone data)
//	positions:    half3[vertex_count]                  (6 B each)
//	uv:           half2[vertex_count]    if HasUV       (4 B each)
//	normals:      byte4[vertex_count]    if HasNormal   (4 B each, [-1,1] via x/127.5-1)
//	bone_indices: byte4[vertex_count]    if HasBones    (4 B each)
//	bone_weights: half4[vertex_count]    if HasBones    (8 B each)
func ScanPacked(buf []byte, blockIndex, blockOffset, blockSize int) (*Packed, error) {
	pos := blockOffset
	vertexCount, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry vertex count", err)
	}
	pos += 4
	format, err := ioprim.ReadU32BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry format", err)
	}
	pos += 4

	n := int(vertexCount)
	p := &Packed{BlockIndex: blockIndex, VertexCount: n, Format: format}

	p.Positions = make([]Vec3, n)
	for i := 0; i < n; i++ {
		v, np, err := readHalf3(buf, pos)
		if err != nil {
			return nil, err
		}
		p.Positions[i] = v
		pos = np
	}

	if p.HasUV() {
		p.UVs = make([][2]float32, n)
		for i := 0; i < n; i++ {
			u, err := ioprim.ReadU16BE(buf, pos)
			if err != nil {
				return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry uv", err)
			}
			v, err := ioprim.ReadU16BE(buf, pos+2)
			if err != nil {
				return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry uv", err)
			}
			p.UVs[i] = [2]float32{ioprim.HalfToFloat32(u), ioprim.HalfToFloat32(v)}
			pos += 4
		}
	}

	if p.HasNormal() {
		p.Normals = make([]Vec3, n)
		for i := 0; i < n; i++ {
			b, err := ioprim.ReadAt(buf, pos, 4)
			if err != nil {
				return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry normal", err)
			}
			p.Normals[i] = Vec3{
				X: float32(b[0])/127.5 - 1,
				Y: float32(b[1])/127.5 - 1,
				Z: float32(b[2])/127.5 - 1,
			}
			pos += 4
		}
	}

	if p.HasBones() {
		p.BoneIndices = make([][4]byte, n)
		for i := 0; i < n; i++ {
			b, err := ioprim.ReadAt(buf, pos, 4)
			if err != nil {
				return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry bone indices", err)
			}
			p.BoneIndices[i] = [4]byte{b[0], b[1], b[2], b[3]}
			pos += 4
		}
		p.BoneWeights = make([][4]float32, n)
		for i := 0; i < n; i++ {
			w := [4]float32{}
			for j := 0; j < 4; j++ {
				h, err := ioprim.ReadU16BE(buf, pos+2*j)
				if err != nil {
					return nil, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry bone weight", err)
				}
				w[j] = ioprim.HalfToFloat32(h)
			}
			p.BoneWeights[i] = w
			pos += 8
		}
	}

	return p, nil
}

func readHalf3(buf []byte, pos int) (Vec3, int, error) {
	hx, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return Vec3{}, 0, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry position", err)
	}
	hy, err := ioprim.ReadU16BE(buf, pos+2)
	if err != nil {
		return Vec3{}, 0, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry position", err)
	}
	hz, err := ioprim.ReadU16BE(buf, pos+4)
	if err != nil {
		return Vec3{}, 0, utils.WrapError(utils.KindExpanderParseFailure, "packed geometry position", err)
	}
	return Vec3{ioprim.HalfToFloat32(hx), ioprim.HalfToFloat32(hy), ioprim.HalfToFloat32(hz)}, pos + 6, nil
}

// Expansion describes the size growth a geometry block (NiTriShapeData or
// NiTriStripsData) undergoes once its packed vertex streams are spliced back
// in.
type Expansion struct {
	GeometryBlockIndex int
	PackedSourceBlock  int
	NewSize            int
	VertexCount        int
	HasNormals         bool
	HasUV              bool
}

// PlanExpansion computes the size delta a geometry block gains from
// splicing in p's decoded streams: position half3->float3 always costs 6
// bytes/vertex; normal byte4->float3 costs 8 bytes/vertex when present; uv
// half2->float2 costs 4 bytes/vertex when present. Bone data is consumed by
// internal/skin, not here.
func PlanExpansion(geometryBlockIndex, originalSize int, p *Packed) *Expansion {
	delta := 6 * p.VertexCount
	if p.HasNormal() {
		delta += 8 * p.VertexCount
	}
	if p.HasUV() {
		delta += 4 * p.VertexCount
	}
	return &Expansion{
		GeometryBlockIndex: geometryBlockIndex,
		PackedSourceBlock:  p.BlockIndex,
		NewSize:            originalSize + delta,
		VertexCount:        p.VertexCount,
		HasNormals:         p.HasNormal(),
		HasUV:              p.HasUV(),
	}
}

// shapeDataHeader is the fixed prefix of NiTriShapeData/NiTriStripsData
// shared by both triangle-fan and strip geometry, up through the
// has-vertices flag, read directly (rather than through the schema walker)
// since the splice point for the decoded position array depends on exactly
// where that flag sits.
type shapeDataHeader struct {
	numVertices  uint16
	hasVertices  bool
	hasNormals   bool
	center       [3]float32
	radius       float32
	hasColors    bool
	numUVSets    uint16
	hasUV        bool
	numTriangles uint16
	tailOffset   int // offset, relative to block start, of the Num Triangles field
}

// Xbox-packed geometry blocks carry their vertex streams inline at
// half-precision width rather than side-loading them entirely: Has
// Vertices/Has Normals/Has UV gate a half3/byte4/half2 array respectively,
// which the splice step below widens to the PC float3/float3/float2 form.
const (
	packedPositionWidth = 6
	pcPositionWidth     = 12
	packedNormalWidth   = 4
	pcNormalWidth       = 12
	packedUVWidth       = 4
	pcUVWidth           = 8
	vertexColorWidth    = 16
)

func parseShapeDataHeader(buf []byte, blockOffset int) (*shapeDataHeader, error) {
	pos := blockOffset
	numVerts, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data num vertices", err)
	}
	pos += 2
	hasVerts, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data has vertices", err)
	}
	pos++
	if hasVerts != 0 {
		pos += packedPositionWidth * int(numVerts)
	}
	hasNormals, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data has normals", err)
	}
	pos++
	if hasNormals != 0 {
		pos += packedNormalWidth * int(numVerts)
	}
	var center [3]float32
	for i := 0; i < 3; i++ {
		v, err := ioprim.ReadF32BE(buf, pos)
		if err != nil {
			return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data center", err)
		}
		center[i] = v
		pos += 4
	}
	radius, err := ioprim.ReadF32BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data radius", err)
	}
	pos += 4
	hasColors, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data has vertex colors", err)
	}
	pos++
	if hasColors != 0 {
		pos += vertexColorWidth * int(numVerts)
	}
	numUVSets, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data num uv sets", err)
	}
	pos += 2
	hasUV, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data has uv", err)
	}
	pos++
	if hasUV != 0 && numUVSets != 0 {
		pos += packedUVWidth * int(numVerts)
	}
	numTriangles, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, utils.WrapError(utils.KindExpanderParseFailure, "shape data num triangles", err)
	}

	return &shapeDataHeader{
		numVertices:  numVerts,
		hasVertices:  hasVerts != 0,
		hasNormals:   hasNormals != 0,
		center:       center,
		radius:       radius,
		hasColors:    hasColors != 0,
		numUVSets:    numUVSets,
		hasUV:        hasUV != 0,
		numTriangles: numTriangles,
		tailOffset:   pos - blockOffset,
	}, nil
}

// WriteShapeData emits the expanded NiTriShapeData/NiTriStripsData block:
// the original header fields up to Has Vertices, then the spliced-in
// position/normal/uv arrays (now populated from p), then the tail starting
// at NiTriBasedGeomData's own Num Triangles field, copied through
// unchanged (byte-swapped). dataTypeName selects which tail grammar that
// is: NiTriShapeData's Num Triangle Points/Has Triangles/Triangles/Num
// Match Groups, or NiTriStripsData's Num Strips/Strip Lengths/Has
// Points/Points — the two types diverge completely past that shared field,
// and copying one's layout over the other's bytes would misinterpret
// strip lengths as triangle data or vice versa without raising an error.
func WriteShapeData(dst []byte, dstOffset int, src []byte, blockOffset, blockSize int, p *Packed, dataTypeName string) (int, error) {
	hdr, err := parseShapeDataHeader(src, blockOffset)
	if err != nil {
		return 0, err
	}
	if int(hdr.numVertices) != p.VertexCount {
		return 0, utils.NewError(utils.KindExpanderParseFailure,
			fmt.Sprintf("shape data vertex count %d does not match packed source %d", hdr.numVertices, p.VertexCount))
	}

	pos := dstOffset
	if err := ioprim.WriteU16LE(dst, pos, hdr.numVertices); err != nil {
		return 0, err
	}
	pos += 2
	dst[pos] = 1 // Has Vertices, now always true
	pos++
	for _, v := range p.Positions {
		if err := writeVec3(dst, pos, v); err != nil {
			return 0, err
		}
		pos += pcPositionWidth
	}

	hasNormals := hdr.hasNormals || p.HasNormal()
	if hasNormals {
		dst[pos] = 1
		pos++
		normals := p.Normals
		if normals == nil {
			normals = make([]Vec3, p.VertexCount)
		}
		for _, v := range normals {
			if err := writeVec3(dst, pos, v); err != nil {
				return 0, err
			}
			pos += pcNormalWidth
		}
	} else {
		dst[pos] = 0
		pos++
	}

	for _, c := range hdr.center {
		if err := ioprim.WriteF32LE(dst, pos, c); err != nil {
			return 0, err
		}
		pos += 4
	}
	if err := ioprim.WriteF32LE(dst, pos, hdr.radius); err != nil {
		return 0, err
	}
	pos += 4

	if hdr.hasColors {
		dst[pos] = 1
		pos++
		// Vertex colors are not produced by the packed geometry decoder;
		// the original already carried them inline (HasColor streams are
		// not part of BSPackedAdditionalGeometryData), so copy them
		// through from the source at their original (pre-splice) offset.
		srcColorsOffset := blockOffset + 2 + 1 + packedPositionWidth*int(hdr.numVertices) + 1 +
			boolInt(hdr.hasNormals)*packedNormalWidth*int(hdr.numVertices) + 12 + 4 + 1
		for i := 0; i < int(hdr.numVertices); i++ {
			for c := 0; c < 4; c++ {
				v, err := ioprim.ReadF32BE(src, srcColorsOffset+vertexColorWidth*i+4*c)
				if err != nil {
					return 0, utils.WrapError(utils.KindExpanderParseFailure, "shape data vertex colors", err)
				}
				if err := ioprim.WriteF32LE(dst, pos, v); err != nil {
					return 0, err
				}
				pos += 4
			}
		}
	} else {
		dst[pos] = 0
		pos++
	}

	hasUV := hdr.hasUV || p.HasUV()
	if err := ioprim.WriteU16LE(dst, pos, hdr.numUVSets); err != nil {
		return 0, err
	}
	pos += 2
	if hasUV {
		dst[pos] = 1
		pos++
		uvs := p.UVs
		if uvs == nil {
			uvs = make([][2]float32, p.VertexCount)
		}
		for _, uv := range uvs {
			if err := ioprim.WriteF32LE(dst, pos, uv[0]); err != nil {
				return 0, err
			}
			if err := ioprim.WriteF32LE(dst, pos+4, uv[1]); err != nil {
				return 0, err
			}
			pos += pcUVWidth
		}
	} else {
		dst[pos] = 0
		pos++
	}

	// Copy the remainder (Num Triangles onward) verbatim, swapping widths,
	// using whichever tail grammar matches the block's real type.
	tailSrc := blockOffset + hdr.tailOffset
	tailLen := blockSize - hdr.tailOffset
	copyTail := copySwappedTriangleTail
	if dataTypeName == "NiTriStripsData" {
		copyTail = copySwappedStripTail
	}
	if err := copyTail(dst, pos, src, tailSrc, tailLen); err != nil {
		return 0, err
	}
	pos += tailLen

	return pos - dstOffset, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeVec3(dst []byte, pos int, v Vec3) error {
	if err := ioprim.WriteF32LE(dst, pos, v.X); err != nil {
		return err
	}
	if err := ioprim.WriteF32LE(dst, pos+4, v.Y); err != nil {
		return err
	}
	return ioprim.WriteF32LE(dst, pos+8, v.Z)
}

// copySwappedTriangleTail copies n bytes from src at srcOffset to dst at
// dstOffset, reinterpreting the stream as NiTriShapeData's tail: Num
// Triangles, Num Triangle Points, Has Triangles, Triangles[], Num Match
// Groups, byte-swapping each field. Because the exact sub-field widths vary
// (a u8 "has" flag followed by u16 triples), this walks the same fixed
// grammar parseShapeDataHeader already established the tail follows, rather
// than a blind byte copy.
func copySwappedTriangleTail(dst []byte, dstOffset int, src []byte, srcOffset, n int) error {
	pos := dstOffset
	sp := srcOffset
	numTriangles16, err := ioprim.ReadU16BE(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data num triangles", err)
	}
	if err := ioprim.WriteU16LE(dst, pos, numTriangles16); err != nil {
		return err
	}
	pos += 2
	sp += 2
	numTriPoints, err := ioprim.ReadU32BE(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data num triangle points", err)
	}
	if err := ioprim.WriteU32LE(dst, pos, numTriPoints); err != nil {
		return err
	}
	pos += 4
	sp += 4
	hasTri, err := ioprim.ReadU8(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data has triangles", err)
	}
	dst[pos] = hasTri
	pos++
	sp++
	numTriangles := 0
	if hasTri != 0 {
		numTriangles = int(numTriPoints) / 3
	}
	for i := 0; i < numTriangles; i++ {
		for j := 0; j < 3; j++ {
			v, err := ioprim.ReadU16BE(src, sp)
			if err != nil {
				return utils.WrapError(utils.KindExpanderParseFailure, "shape data triangle", err)
			}
			if err := ioprim.WriteU16LE(dst, pos, v); err != nil {
				return err
			}
			pos += 2
			sp += 2
		}
	}
	numMatchGroups, err := ioprim.ReadU16BE(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data num match groups", err)
	}
	if err := ioprim.WriteU16LE(dst, pos, numMatchGroups); err != nil {
		return err
	}
	return nil
}

// copySwappedStripTail copies n bytes from src at srcOffset to dst at
// dstOffset, reinterpreting the stream as NiTriStripsData's tail: Num
// Triangles, Num Strips, Strip Lengths[Num Strips], Has Points,
// Points[strip][length] — a completely different grammar from
// NiTriShapeData's triangle tail past the Num Triangles field both types
// share via NiTriBasedGeomData.
func copySwappedStripTail(dst []byte, dstOffset int, src []byte, srcOffset, n int) error {
	pos := dstOffset
	sp := srcOffset

	numTriangles, err := ioprim.ReadU16BE(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data num triangles", err)
	}
	if err := ioprim.WriteU16LE(dst, pos, numTriangles); err != nil {
		return err
	}
	pos += 2
	sp += 2

	numStrips, err := ioprim.ReadU16BE(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data num strips", err)
	}
	if err := ioprim.WriteU16LE(dst, pos, numStrips); err != nil {
		return err
	}
	pos += 2
	sp += 2

	stripLengths := make([]uint16, numStrips)
	for i := range stripLengths {
		l, err := ioprim.ReadU16BE(src, sp)
		if err != nil {
			return utils.WrapError(utils.KindExpanderParseFailure, "shape data strip lengths", err)
		}
		if err := ioprim.WriteU16LE(dst, pos, l); err != nil {
			return err
		}
		stripLengths[i] = l
		pos += 2
		sp += 2
	}

	hasPoints, err := ioprim.ReadU8(src, sp)
	if err != nil {
		return utils.WrapError(utils.KindExpanderParseFailure, "shape data has points", err)
	}
	dst[pos] = hasPoints
	pos++
	sp++

	if hasPoints != 0 {
		for _, l := range stripLengths {
			for k := 0; k < int(l); k++ {
				v, err := ioprim.ReadU16BE(src, sp)
				if err != nil {
					return utils.WrapError(utils.KindExpanderParseFailure, "shape data points", err)
				}
				if err := ioprim.WriteU16LE(dst, pos, v); err != nil {
					return err
				}
				pos += 2
				sp += 2
			}
		}
	}

	return nil
}
