package havok

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/stretchr/testify/require"
)

func beU16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func beU32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

// buildCompressedFixture builds the S4 fixture: 2 triangles, 4 compressed
// half3 vertices, 1 sub-shape.
func buildCompressedFixture() []byte {
	var buf []byte
	buf = append(buf, beU32(2)...) // num triangles
	for i := 0; i < 2; i++ {
		buf = append(buf, beU16(uint16(i))...)
		buf = append(buf, beU16(uint16(i+1))...)
		buf = append(buf, beU16(uint16(i+2))...)
		buf = append(buf, beU16(0)...)
	}
	buf = append(buf, beU32(4)...) // num vertices
	buf = append(buf, 1)           // compressed = 1
	verts := [][3]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 1}}
	for _, v := range verts {
		buf = append(buf, beU16(ioprim.Float32ToHalf(v[0]))...)
		buf = append(buf, beU16(ioprim.Float32ToHalf(v[1]))...)
		buf = append(buf, beU16(ioprim.Float32ToHalf(v[2]))...)
	}
	buf = append(buf, beU16(1)...)           // num sub shapes
	buf = append(buf, beU16(0)...)           // layer
	buf = append(buf, beU16(2)...)           // num triangles in sub-shape
	buf = append(buf, beU32(0)...)           // material
	return buf
}

func TestScan_CompressedGrowsBySixPerVertex(t *testing.T) {
	buf := buildCompressedFixture()
	exp, err := Scan(buf, 0, 0, len(buf))
	require.NoError(t, err)
	require.True(t, exp.Compressed)
	require.Equal(t, 4, exp.NumVertices)
	require.Equal(t, 2, exp.NumTriangles)
	require.Equal(t, 1, exp.NumSubShapes)
	require.Equal(t, len(buf)+24, exp.NewSize)
}

func TestWrite_DecompressesVerticesAndClearsFlag(t *testing.T) {
	buf := buildCompressedFixture()
	exp, err := Scan(buf, 0, 0, len(buf))
	require.NoError(t, err)

	dst := make([]byte, exp.NewSize)
	n, err := Write(dst, 0, buf, 0, len(buf), exp)
	require.NoError(t, err)
	require.Equal(t, exp.NewSize, n)

	require.Equal(t, uint32(2), binary.LittleEndian.Uint32(dst[0:4]))

	vertexDataOffset := 4 + 2*8 + 4
	require.Equal(t, byte(0), dst[vertexDataOffset], "compressed flag must be cleared")

	vertexArrayStart := vertexDataOffset + 1
	x := le32f(dst[vertexArrayStart : vertexArrayStart+4])
	require.InDelta(t, float32(1), x, 1e-6)
}

func le32f(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
