package skin

import (
	"encoding/binary"
	"testing"

	"github.com/nif360/transcoder/internal/geometry"
	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/stretchr/testify/require"
)

func beU8(v uint8) []byte   { return []byte{v} }
func beU16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func beU32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

// buildPartitionFixture builds the S6 fixture: 4 vertices, one 4-vertex
// strip (reconstructing to 2 non-degenerate triangles), 3 bones, 4 weights
// per vertex, has_vertex_weights=0, has_bone_indices=0.
func buildPartitionFixture() []byte {
	var buf []byte
	buf = append(buf, beU16(4)...) // num vertices
	buf = append(buf, beU16(2)...) // num triangles
	buf = append(buf, beU16(3)...) // num bones
	buf = append(buf, beU16(1)...) // num strips
	buf = append(buf, beU16(4)...) // num weights per vertex
	buf = append(buf, beU16(10)...)
	buf = append(buf, beU16(20)...)
	buf = append(buf, beU16(30)...) // bones
	buf = append(buf, beU8(0)...)   // has vertex map
	buf = append(buf, beU8(0)...)   // has vertex weights
	buf = append(buf, beU16(4)...)  // strip lengths[0]
	buf = append(buf, beU8(1)...)   // has faces
	buf = append(buf, beU16(0)...)
	buf = append(buf, beU16(1)...)
	buf = append(buf, beU16(2)...)
	buf = append(buf, beU16(3)...) // strip [0,1,2,3]
	buf = append(buf, beU8(0)...)  // has bone indices
	return buf
}

// buildPackedBonesFixture builds a BSPackedAdditionalGeometryData block with
// bone data for 4 vertices, each influenced by global bones {10,20,30,10}
// with weights {0.4,0.3,0.2,0.1}.
func buildPackedBonesFixture() []byte {
	var buf []byte
	buf = append(buf, beU32(4)...) // vertex count
	buf = append(buf, beU32(8)...) // format: bit3 (has bone data) set
	for i := 0; i < 4; i++ {
		buf = append(buf, beU16(0)...) // position x (unused by skin)
		buf = append(buf, beU16(0)...) // position y
		buf = append(buf, beU16(0)...) // position z
	}
	weights := []float32{0.4, 0.3, 0.2, 0.1}
	for v := 0; v < 4; v++ {
		buf = append(buf, []byte{10, 20, 30, 10}...) // bone indices
	}
	for v := 0; v < 4; v++ {
		for _, w := range weights {
			buf = append(buf, beU16(ioprim.Float32ToHalf(w))...)
		}
	}
	return buf
}

func TestParsePartitions_DecodesHeaderAndStrip(t *testing.T) {
	buf := buildPartitionFixture()
	parts, n, err := ParsePartitions(buf, 0, 1)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Len(t, parts, 1)

	p := parts[0]
	require.Equal(t, 4, p.NumVertices)
	require.Equal(t, 3, p.NumBones)
	require.Equal(t, []uint16{10, 20, 30}, p.Bones)
	require.False(t, p.HasVertexWeights)
	require.False(t, p.HasBoneIndices)
	require.Equal(t, [][]uint16{{0, 1, 2, 3}}, p.Strips)
}

func TestReconstructTriangles_AlternatesWindingSkipsDegenerate(t *testing.T) {
	p := &Partition{NumStrips: 1, Strips: [][]uint16{{0, 1, 2, 3}}}
	tris := p.ReconstructTriangles()
	require.Equal(t, [][3]uint16{{0, 1, 2}, {2, 1, 3}}, tris)
}

func TestReconstructTriangles_SkipsDegenerateTriangle(t *testing.T) {
	// strip {0,1,1,2,3}: the first two candidate triangles are degenerate
	// (repeated vertex 1), only the third (1,2,3) survives.
	p := &Partition{NumStrips: 1, Strips: [][]uint16{{0, 1, 1, 2, 3}}}
	tris := p.ReconstructTriangles()
	require.Equal(t, [][3]uint16{{1, 2, 3}}, tris)
}

func TestExpand_LooksUpWeightsAndRemapsBonesToPartitionLocal(t *testing.T) {
	buf := buildPartitionFixture()
	parts, _, err := ParsePartitions(buf, 0, 1)
	require.NoError(t, err)
	p := parts[0]

	packedBuf := buildPackedBonesFixture()
	packed, err := geometry.ScanPacked(packedBuf, 2, 0, len(packedBuf))
	require.NoError(t, err)
	require.True(t, packed.HasBones())

	err = Expand(p, 0, packed)
	require.NoError(t, err)
	require.True(t, p.HasVertexWeights)
	require.True(t, p.HasBoneIndices)

	for v := 0; v < 4; v++ {
		require.InDeltaSlice(t, []float64{0.4, 0.3, 0.2, 0.1}, toFloat64(p.VertexWeights[v]), 1e-3)
		require.Equal(t, []byte{0, 1, 2, 0}, p.BoneIndices[v], "global bones 10,20,30,10 -> partition-local 0,1,2,0")
	}
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func TestSizeAndWrite_MatchFormula(t *testing.T) {
	buf := buildPartitionFixture()
	parts, _, err := ParsePartitions(buf, 0, 1)
	require.NoError(t, err)
	p := parts[0]

	packedBuf := buildPackedBonesFixture()
	packed, err := geometry.ScanPacked(packedBuf, 2, 0, len(packedBuf))
	require.NoError(t, err)
	require.NoError(t, Expand(p, 0, packed))

	expectedSize := 10 + len(p.Bones)*2 + 1 + 1 + 4*p.NumVertices*p.NumWeightsPerVertex +
		len(p.StripLengths)*2 + 1 + 4*2 + 1 + p.NumVertices*p.NumWeightsPerVertex
	require.Equal(t, expectedSize, p.Size())

	dst := make([]byte, p.Size())
	n, err := Write(dst, 0, p)
	require.NoError(t, err)
	require.Equal(t, p.Size(), n)

	require.Equal(t, uint16(4), binary.LittleEndian.Uint16(dst[0:2]))
}

func TestWrite_BeforeExpandIsError(t *testing.T) {
	buf := buildPartitionFixture()
	parts, _, err := ParsePartitions(buf, 0, 1)
	require.NoError(t, err)
	dst := make([]byte, 1024)
	_, err = Write(dst, 0, parts[0])
	require.Error(t, err)
}
