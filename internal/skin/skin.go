// Package skin decodes and rewrites NiSkinPartition blocks. Like
// internal/havok and internal/geometry, this is a fixed, version-independent
// binary layout handled by a dedicated decoder rather than the generic
// schema walker: Xbox form leaves a partition's bone weights and indices out
// (has_vertex_weights = 0, has_bone_indices = 0), deferring them to the
// linked BSPackedAdditionalGeometryData block, and strips may need
// reconstructing into triangles for renderers that expect them directly.
package skin

import (
	"fmt"

	"github.com/nif360/transcoder/internal/geometry"
	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/utils"
	"github.com/nif360/transcoder/log"
)

// Partition is one decoded NiSkinPartition entry.
type Partition struct {
	NumVertices         int
	NumTriangles        int
	NumBones            int
	NumStrips           int
	NumWeightsPerVertex int

	Bones []uint16

	HasVertexMap bool
	VertexMap    []uint16

	HasVertexWeights bool
	VertexWeights    [][]float32 // [vertex][weight index]

	StripLengths []uint16

	HasFaces  bool
	Strips    [][]uint16    // len == NumStrips, used when NumStrips > 0
	Triangles [][3]uint16   // used when NumStrips == 0

	HasBoneIndices bool
	BoneIndices    [][]byte // [vertex][weight index], global indices before Expand, partition-local after
}

// ParsePartitions decodes numPartitions consecutive partitions starting at
// blockOffset. Returns the partitions and the number of bytes consumed.
func ParsePartitions(buf []byte, blockOffset, numPartitions int) ([]*Partition, int, error) {
	pos := blockOffset
	out := make([]*Partition, numPartitions)
	for i := 0; i < numPartitions; i++ {
		p, n, err := parsePartition(buf, pos)
		if err != nil {
			return nil, 0, err
		}
		out[i] = p
		pos += n
	}
	return out, pos - blockOffset, nil
}

func parsePartition(buf []byte, offset int) (*Partition, int, error) {
	pos := offset
	p := &Partition{}

	nv, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition num vertices", err)
	}
	p.NumVertices = int(nv)
	pos += 2

	nt, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition num triangles", err)
	}
	p.NumTriangles = int(nt)
	pos += 2

	nb, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition num bones", err)
	}
	p.NumBones = int(nb)
	pos += 2

	ns, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition num strips", err)
	}
	p.NumStrips = int(ns)
	pos += 2

	nwpv, err := ioprim.ReadU16BE(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition num weights per vertex", err)
	}
	p.NumWeightsPerVertex = int(nwpv)
	pos += 2

	p.Bones = make([]uint16, p.NumBones)
	for i := range p.Bones {
		v, err := ioprim.ReadU16BE(buf, pos)
		if err != nil {
			return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition bones", err)
		}
		p.Bones[i] = v
		pos += 2
	}

	hvm, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition has vertex map", err)
	}
	p.HasVertexMap = hvm != 0
	pos++
	if p.HasVertexMap {
		p.VertexMap = make([]uint16, p.NumVertices)
		for i := range p.VertexMap {
			v, err := ioprim.ReadU16BE(buf, pos)
			if err != nil {
				return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition vertex map", err)
			}
			p.VertexMap[i] = v
			pos += 2
		}
	}

	hvw, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition has vertex weights", err)
	}
	p.HasVertexWeights = hvw != 0
	pos++
	if p.HasVertexWeights {
		p.VertexWeights = make([][]float32, p.NumVertices)
		for v := 0; v < p.NumVertices; v++ {
			row := make([]float32, p.NumWeightsPerVertex)
			for j := 0; j < p.NumWeightsPerVertex; j++ {
				f, err := ioprim.ReadF32BE(buf, pos)
				if err != nil {
					return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition vertex weights", err)
				}
				row[j] = f
				pos += 4
			}
			p.VertexWeights[v] = row
		}
	}

	p.StripLengths = make([]uint16, p.NumStrips)
	for i := range p.StripLengths {
		v, err := ioprim.ReadU16BE(buf, pos)
		if err != nil {
			return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition strip lengths", err)
		}
		p.StripLengths[i] = v
		pos += 2
	}

	hf, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition has faces", err)
	}
	p.HasFaces = hf != 0
	pos++
	if p.HasFaces {
		if p.NumStrips > 0 {
			p.Strips = make([][]uint16, p.NumStrips)
			for s := 0; s < p.NumStrips; s++ {
				l := int(p.StripLengths[s])
				strip := make([]uint16, l)
				for k := 0; k < l; k++ {
					v, err := ioprim.ReadU16BE(buf, pos)
					if err != nil {
						return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition strips", err)
					}
					strip[k] = v
					pos += 2
				}
				p.Strips[s] = strip
			}
		} else {
			p.Triangles = make([][3]uint16, p.NumTriangles)
			for t := 0; t < p.NumTriangles; t++ {
				var tri [3]uint16
				for k := 0; k < 3; k++ {
					v, err := ioprim.ReadU16BE(buf, pos)
					if err != nil {
						return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition triangles", err)
					}
					tri[k] = v
					pos += 2
				}
				p.Triangles[t] = tri
			}
		}
	}

	hbi, err := ioprim.ReadU8(buf, pos)
	if err != nil {
		return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition has bone indices", err)
	}
	p.HasBoneIndices = hbi != 0
	pos++
	if p.HasBoneIndices {
		p.BoneIndices = make([][]byte, p.NumVertices)
		for v := 0; v < p.NumVertices; v++ {
			row := make([]byte, p.NumWeightsPerVertex)
			for j := 0; j < p.NumWeightsPerVertex; j++ {
				b, err := ioprim.ReadU8(buf, pos)
				if err != nil {
					return nil, 0, utils.WrapError(utils.KindExpanderParseFailure, "skin partition bone indices", err)
				}
				row[j] = b
				pos++
			}
			p.BoneIndices[v] = row
		}
	}

	return p, pos - offset, nil
}

// ReconstructTriangles returns p's triangle list, rebuilding it from strips
// (alternating winding per strip index, skipping degenerate triangles where
// two vertex indices coincide) when the partition only carries strips.
func (p *Partition) ReconstructTriangles() [][3]uint16 {
	if p.NumStrips == 0 {
		return p.Triangles
	}
	var tris [][3]uint16
	for _, strip := range p.Strips {
		for i := 0; i+2 < len(strip); i++ {
			var a, b, c uint16
			if i%2 == 0 {
				a, b, c = strip[i], strip[i+1], strip[i+2]
			} else {
				a, b, c = strip[i+1], strip[i], strip[i+2]
			}
			if a == b || b == c || a == c {
				continue
			}
			tris = append(tris, [3]uint16{a, b, c})
		}
	}
	return tris
}

// localBoneIndex searches p.Bones for a global bone index, returning its
// partition-local position. Unknown bones map to 0; callers log this.
func (p *Partition) localBoneIndex(global uint16) (int, bool) {
	for i, b := range p.Bones {
		if b == global {
			return i, true
		}
	}
	return 0, false
}

// Expand populates VertexWeights/BoneIndices from the linked packed
// geometry block, remapping global bone indices to partition-local ones.
// meshVertexOffset is the running per-partition mesh-vertex offset used when
// the partition carries no vertex_map.
func Expand(p *Partition, meshVertexOffset int, packed *geometry.Packed) error {
	if !packed.HasBones() {
		return utils.NewError(utils.KindExpanderParseFailure, "skin partition: linked packed block carries no bone data")
	}

	weights := make([][]float32, p.NumVertices)
	indices := make([][]byte, p.NumVertices)

	for i := 0; i < p.NumVertices; i++ {
		meshVertex := meshVertexOffset + i
		if p.HasVertexMap {
			meshVertex = int(p.VertexMap[i])
		}
		if meshVertex < 0 || meshVertex >= len(packed.BoneWeights) {
			return utils.NewError(utils.KindExpanderParseFailure,
				fmt.Sprintf("skin partition: mesh vertex %d out of range (packed block has %d)", meshVertex, len(packed.BoneWeights)))
		}

		srcWeights := packed.BoneWeights[meshVertex]
		srcIndices := packed.BoneIndices[meshVertex]

		w := make([]float32, p.NumWeightsPerVertex)
		b := make([]byte, p.NumWeightsPerVertex)
		for j := 0; j < p.NumWeightsPerVertex && j < len(srcWeights); j++ {
			w[j] = srcWeights[j]
			local, ok := p.localBoneIndex(uint16(srcIndices[j]))
			if !ok {
				log.Warn("skin partition: unknown bone index, mapping to 0",
					log.F("global_bone", srcIndices[j]), log.F("vertex", i))
			}
			b[j] = byte(local)
		}
		weights[i] = w
		indices[i] = b
	}

	p.VertexWeights = weights
	p.BoneIndices = indices
	p.HasVertexWeights = true
	p.HasBoneIndices = true
	return nil
}

// Size returns the partition's encoded byte length:
// header(10) + bones*2 + 1 + map?*2*nv + 1 + 4*nv*nwpv + strip_lengths*2 +
// 1 + faces_bytes + 1 + nv*nwpv.
func (p *Partition) Size() int {
	sz := 10 + len(p.Bones)*2
	sz++ // has_vertex_map
	if p.HasVertexMap {
		sz += 2 * p.NumVertices
	}
	sz++ // has_vertex_weights
	if p.HasVertexWeights {
		sz += 4 * p.NumVertices * p.NumWeightsPerVertex
	}
	sz += len(p.StripLengths) * 2
	sz++ // has_faces
	sz += p.facesBytes()
	sz++ // has_bone_indices
	if p.HasBoneIndices {
		sz += p.NumVertices * p.NumWeightsPerVertex
	}
	return sz
}

func (p *Partition) facesBytes() int {
	if !p.HasFaces {
		return 0
	}
	if p.NumStrips > 0 {
		total := 0
		for _, l := range p.StripLengths {
			total += int(l)
		}
		return total * 2
	}
	return p.NumTriangles * 3 * 2
}

// Write emits p in little-endian PC form, writing has_vertex_weights=1 and
// has_bone_indices=1 inline. Returns the number of bytes written, which
// equals p.Size().
func Write(dst []byte, dstOffset int, p *Partition) (int, error) {
	pos := dstOffset
	fields := []int{p.NumVertices, p.NumTriangles, p.NumBones, p.NumStrips, p.NumWeightsPerVertex}
	for _, f := range fields {
		if err := ioprim.WriteU16LE(dst, pos, uint16(f)); err != nil {
			return 0, err
		}
		pos += 2
	}

	for _, b := range p.Bones {
		if err := ioprim.WriteU16LE(dst, pos, b); err != nil {
			return 0, err
		}
		pos += 2
	}

	if p.HasVertexMap {
		dst[pos] = 1
		pos++
		for _, v := range p.VertexMap {
			if err := ioprim.WriteU16LE(dst, pos, v); err != nil {
				return 0, err
			}
			pos += 2
		}
	} else {
		dst[pos] = 0
		pos++
	}

	if !p.HasVertexWeights {
		return 0, utils.NewError(utils.KindExpanderParseFailure, "skin partition: Write called before Expand")
	}
	dst[pos] = 1
	pos++
	for _, row := range p.VertexWeights {
		for _, w := range row {
			if err := ioprim.WriteF32LE(dst, pos, w); err != nil {
				return 0, err
			}
			pos += 4
		}
	}

	for _, l := range p.StripLengths {
		if err := ioprim.WriteU16LE(dst, pos, l); err != nil {
			return 0, err
		}
		pos += 2
	}

	if p.HasFaces {
		dst[pos] = 1
		pos++
		if p.NumStrips > 0 {
			for _, strip := range p.Strips {
				for _, v := range strip {
					if err := ioprim.WriteU16LE(dst, pos, v); err != nil {
						return 0, err
					}
					pos += 2
				}
			}
		} else {
			for _, tri := range p.Triangles {
				for _, v := range tri {
					if err := ioprim.WriteU16LE(dst, pos, v); err != nil {
						return 0, err
					}
					pos += 2
				}
			}
		}
	} else {
		dst[pos] = 0
		pos++
	}

	if !p.HasBoneIndices {
		return 0, utils.NewError(utils.KindExpanderParseFailure, "skin partition: Write called before Expand")
	}
	dst[pos] = 1
	pos++
	for _, row := range p.BoneIndices {
		for _, b := range row {
			dst[pos] = b
			pos++
		}
	}

	written := pos - dstOffset
	if written != p.Size() {
		return 0, utils.NewError(utils.KindInternalInvariantViolation,
			fmt.Sprintf("skin partition: wrote %d bytes, expected %d", written, p.Size()))
	}
	return written, nil
}
