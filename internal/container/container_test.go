package container

import (
	"encoding/binary"
	"testing"

	"github.com/nif360/transcoder/internal/utils"
	"github.com/stretchr/testify/require"
)

// buildMinimalNiNode builds a minimal NIF container (BE or LE, per
// bigEndian) with a single NiNode
// block, zero strings, zero groups, and a single root pointing at it. It
// mirrors the byte layout container.Parse expects, field for field.
func buildMinimalNiNode(t *testing.T, bigEndian bool) []byte {
	t.Helper()
	var buf []byte

	put32 := func(v uint32) {
		b := make([]byte, 4)
		if bigEndian {
			binary.BigEndian.PutUint32(b, v)
		} else {
			binary.LittleEndian.PutUint32(b, v)
		}
		buf = append(buf, b...)
	}
	put32LE := func(v uint32) {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		buf = append(buf, b...)
	}
	put16 := func(v uint16) {
		b := make([]byte, 2)
		if bigEndian {
			binary.BigEndian.PutUint16(b, v)
		} else {
			binary.LittleEndian.PutUint16(b, v)
		}
		buf = append(buf, b...)
	}
	sizedString := func(s string) {
		put32(uint32(len(s)))
		buf = append(buf, []byte(s)...)
	}

	buf = append(buf, []byte("Gamebryo File Format, Version 20.2.0.7\n")...)
	put32LE(0x14020007) // binary_version, always LE
	if bigEndian {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
	}
	put32LE(0) // user_version, always LE (0 so no BS subheader)
	put32LE(1) // num_blocks, always LE

	put16(1) // num_block_types
	sizedString("NiNode")
	put16(0) // block 0's type index

	// NiNode body: Name(StringIndex 4B)=-1, Flags(u16)=0, Translation(Vector3
	// 12B)=0, Rotation(Matrix33 36B)=identity-ish zeros, Scale(float 4B)=1.0,
	// Num Properties(u32)=0, Num Extra Data List(u32)=0 (vercond satisfied
	// since 0x14020007 >= 0x14010003), Num Children(u32)=0, Num Effects(u32)=0.
	var body []byte
	app32 := func(v uint32) {
		b := make([]byte, 4)
		if bigEndian {
			binary.BigEndian.PutUint32(b, v)
		} else {
			binary.LittleEndian.PutUint32(b, v)
		}
		body = append(body, b...)
	}
	app16 := func(v uint16) {
		b := make([]byte, 2)
		if bigEndian {
			binary.BigEndian.PutUint16(b, v)
		} else {
			binary.LittleEndian.PutUint16(b, v)
		}
		body = append(body, b...)
	}
	app32(0xFFFFFFFF) // Name StringIndex = -1 (none)
	app16(0)          // Flags
	for i := 0; i < 3; i++ {
		app32(0) // Translation.xyz
	}
	for i := 0; i < 9; i++ {
		app32(0) // Rotation 3x3
	}
	app32(0x3F800000) // Scale = 1.0f bit pattern
	app32(0)          // Num Properties
	app32(0)          // Num Extra Data List
	app32(0)          // Num Children
	app32(0)          // Num Effects

	put32(uint32(len(body))) // block size

	put32(0) // num_strings
	put32(0) // max_string_length

	put32(0) // num_groups

	buf = append(buf, body...)

	put32(1)  // num_roots
	put32(0)  // root[0] = block 0

	return buf
}

func TestParse_MinimalNiNodeBE(t *testing.T) {
	buf := buildMinimalNiNode(t, true)
	view, err := Parse(buf)
	require.NoError(t, err)
	require.True(t, view.IsBigEndian)
	require.Equal(t, uint32(0x14020007), view.BinaryVersion)
	require.Len(t, view.Blocks, 1)
	require.Equal(t, "NiNode", view.Blocks[0].TypeName)
	require.Equal(t, 1, len(view.Roots))
	require.Equal(t, int32(0), view.Roots[0])
	require.False(t, view.HasBSHeader)
}

func TestParse_MinimalNiNodeLE(t *testing.T) {
	buf := buildMinimalNiNode(t, false)
	view, err := Parse(buf)
	require.NoError(t, err)
	require.False(t, view.IsBigEndian)
}

func TestParse_BadMagic(t *testing.T) {
	_, err := Parse([]byte("not a nif file at all"))
	require.Error(t, err)
}

func TestParse_RejectsMalformedVersionString(t *testing.T) {
	buf := []byte("Gamebryo File Format, Version banana\n")
	_, err := Parse(buf)
	require.Error(t, err)
	var te *utils.TranscodeError
	require.ErrorAs(t, err, &te)
	require.Equal(t, utils.KindBadVersionString, te.Kind)
}

func TestParse_AcceptsWellFormedVersionString(t *testing.T) {
	buf := buildMinimalNiNode(t, true)
	_, err := Parse(buf)
	require.NoError(t, err)
}

func TestParse_Truncated(t *testing.T) {
	buf := buildMinimalNiNode(t, true)
	_, err := Parse(buf[:10])
	require.Error(t, err)
}

func TestParse_RejectsBadEndianByte(t *testing.T) {
	buf := buildMinimalNiNode(t, true)
	// endian byte sits right after the header string + 4-byte version.
	idx := len("Gamebryo File Format, Version 20.2.0.7\n") + 4
	buf[idx] = 5
	_, err := Parse(buf)
	require.Error(t, err)
}
