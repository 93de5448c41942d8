package transcode

import (
	"encoding/binary"
	"testing"

	"github.com/nif360/transcoder/internal/schema"
	"github.com/stretchr/testify/require"
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func TestBlock_UnknownTypeIsSchemaMiss(t *testing.T) {
	sch := schema.New()
	buf := make([]byte, 4)
	err := Block(buf, 0, 4, "TotallyUnknownType", sch, schema.VersionTriple{}, nil)
	require.Error(t, err)
}

func TestBlock_SwapsPrimitivesAndStruct(t *testing.T) {
	sch, err := schema.LoadDefault()
	require.NoError(t, err)

	// NiMaterialProperty: Name(StringIndex 4B), Flags(u16), then 4x Vector3
	// (Ambient/Diffuse/Specular/Emissive), Glossiness(float), Alpha(float).
	var buf []byte
	buf = append(buf, be32(0xFFFFFFFF)...) // Name = -1
	buf = append(buf, 0, 0)                // Flags = 0
	for i := 0; i < 4; i++ {
		buf = append(buf, be32(0)...)
		buf = append(buf, be32(0)...)
		buf = append(buf, be32(0)...)
	}
	buf = append(buf, be32(0x3F800000)...) // Glossiness = 1.0f
	buf = append(buf, be32(0x3F000000)...) // Alpha = 0.5f

	orig := append([]byte(nil), buf...)
	err = Block(buf, 0, len(buf), "NiMaterialProperty", sch, schema.VersionTriple{Version: 0x14020007}, nil)
	require.NoError(t, err)
	require.NotEqual(t, orig, buf, "bytes should have been byte-swapped")

	glossOff := 4 + 2 + 4*12
	require.Equal(t, uint32(0x3F800000), le32(buf[glossOff:glossOff+4]))
}

func TestBlock_RefRemap(t *testing.T) {
	sch, err := schema.LoadDefault()
	require.NoError(t, err)

	// NiSkinInstance starts with Data(Ref), Skin Partition(Ref, vercond),
	// Skeleton Root(Ref), Num Bones(u32), Bones(Ref[]).
	var buf []byte
	buf = append(buf, be32(2)...)          // Data -> old block 2
	buf = append(buf, be32(0xFFFFFFFF)...) // Skin Partition -> -1
	buf = append(buf, be32(0)...)          // Skeleton Root -> old block 0
	buf = append(buf, be32(1)...)          // Num Bones = 1
	buf = append(buf, be32(5)...)          // Bones[0] -> old block 5 (removed)

	remap := Remap{0, -1, 1, -1, -1, -1} // block 2 -> 1, block 5 removed, block 0 -> 0
	err = Block(buf, 0, len(buf), "NiSkinInstance", sch, schema.VersionTriple{Version: 0x14020007}, remap)
	require.NoError(t, err)

	require.Equal(t, uint32(1), le32(buf[0:4]))                     // Data remapped 2->1
	require.Equal(t, uint32(0xFFFFFFFF), le32(buf[4:8]))            // untouched -1
	require.Equal(t, uint32(0), le32(buf[8:12]))                    // Skeleton Root 0->0
	require.Equal(t, uint32(1), le32(buf[12:16]))                   // Num Bones unchanged value
	require.Equal(t, uint32(0xFFFFFFFF), le32(buf[16:20]))          // Bones[0] removed -> -1
}

func TestBlock_SwapsVarSizedStringLengthAndSkipsBytes(t *testing.T) {
	sch := schema.New()
	obj := &schema.ObjectDef{
		Name:   "SyntheticSizedString",
		Fields: []schema.Field{{Name: "Text", Type: "SizedString"}},
	}
	obj.AllFields = obj.Fields
	sch.Objects[obj.Name] = obj

	var buf []byte
	buf = append(buf, be32(3)...) // length prefix, BE
	buf = append(buf, []byte("abc")...)
	orig := append([]byte(nil), buf...)

	err := Block(buf, 0, len(buf), obj.Name, sch, schema.VersionTriple{}, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(3), le32(buf[0:4]), "length prefix byte-swapped, value unchanged")
	require.Equal(t, orig[4:], buf[4:], "string bytes left untouched")
}

func TestBlock_VarSizedStringRejectsTruncatedPayload(t *testing.T) {
	sch := schema.New()
	obj := &schema.ObjectDef{
		Name:   "SyntheticSizedStringTruncated",
		Fields: []schema.Field{{Name: "Text", Type: "SizedString"}},
	}
	obj.AllFields = obj.Fields
	sch.Objects[obj.Name] = obj

	var buf []byte
	buf = append(buf, be32(10)...) // claims 10 bytes but none follow
	err := Block(buf, 0, len(buf), obj.Name, sch, schema.VersionTriple{}, nil)
	require.Error(t, err)
}

func TestBlock_TruncatedBufferIsError(t *testing.T) {
	sch, err := schema.LoadDefault()
	require.NoError(t, err)
	buf := make([]byte, 2)
	err = Block(buf, 0, len(buf), "NiMaterialProperty", sch, schema.VersionTriple{}, nil)
	require.Error(t, err)
}
