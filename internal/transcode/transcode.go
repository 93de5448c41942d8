// Package transcode walks a single block's field list per the schema and
// rewrites it from big-endian Xbox form to little-endian PC form in place,
// remapping Ref/Ptr block indices as it goes.
package transcode

import (
	"fmt"

	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/schema"
	"github.com/nif360/transcoder/internal/utils"
)

// Remap maps an original block index to its post-layout index, or -1 when
// the block was removed (e.g. a consumed BSPackedAdditionalGeometryData).
type Remap []int32

func (r Remap) apply(oldIdx int32) int32 {
	if oldIdx < 0 || int(oldIdx) >= len(r) {
		return -1
	}
	return r[oldIdx]
}

// Block rewrites buf[offset:offset+size] in place from BE to LE according to
// the schema's definition of typeName. Returns a SchemaMiss error (the
// block's type, or a type it recurses into, isn't in the schema) or any
// bounds/parse error encountered mid-block; callers treat every error from
// Block as block-local and recoverable via a bulk 32-bit swap fallback.
func Block(buf []byte, offset, size int, typeName string, sch *schema.Schema, vt schema.VersionTriple, remap Remap) error {
	obj, ok := sch.GetObject(typeName)
	if !ok {
		return utils.WrapError(utils.KindSchemaMiss, typeName, fmt.Errorf("unknown object type"))
	}
	values := map[string]int64{}
	w := &walker{buf: buf, base: offset, limit: size, sch: sch, vt: vt, remap: remap, values: values}
	_, err := w.walkFields(obj.AllFields)
	return err
}

type walker struct {
	buf    []byte
	base   int
	limit  int
	pos    int
	sch    *schema.Schema
	vt     schema.VersionTriple
	remap  Remap
	values map[string]int64
}

func (w *walker) abs() int { return w.base + w.pos }

// skipBytes advances past a variable-length string's raw bytes (already
// swapped by the caller if it carried a length prefix needing one), bounds-
// checking them through a pooled scratch buffer rather than allocating one
// per field -- a NIF block's name/extra-data/texture-path strings make this
// the walker's hottest allocation site across a large file.
func (w *walker) skipBytes(n int) error {
	scratch := utils.GetBuffer(n)
	defer utils.ReleaseBuffer(scratch)
	if err := ioprim.ReadInto(w.buf, w.abs(), scratch); err != nil {
		return err
	}
	w.pos += n
	return nil
}

func (w *walker) walkFields(fields []schema.Field) (int, error) {
	for _, f := range fields {
		if f.VersionCond != "" {
			ve := schema.CompileVersionExpr(f.VersionCond)
			if !ve.Eval(w.vt) {
				continue
			}
		}
		if f.Condition != "" {
			fe := schema.CompileFieldExpr(f.Condition)
			arg := parseArg(f.Arg)
			if !fe.Eval(w.values, arg) {
				continue
			}
		}

		count, err := w.resolveLength(f.Length)
		if err != nil {
			return w.pos, err
		}

		var lastVal int64
		for i := 0; i < count; i++ {
			v, err := w.walkOne(f)
			if err != nil {
				return w.pos, err
			}
			lastVal = v
		}
		if count == 1 {
			w.values[f.Name] = lastVal
		}
	}
	return w.pos, nil
}

func parseArg(s string) int64 {
	var v int64
	if s == "" {
		return 0
	}
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	v = int64(n)
	if neg {
		v = -v
	}
	return v
}

func (w *walker) resolveLength(length string) (int, error) {
	if length == "" {
		return 1, nil
	}
	if n, ok := literalInt(length); ok {
		return n, nil
	}
	if v, ok := w.values[length]; ok {
		if v < 0 {
			return 0, nil
		}
		return int(v), nil
	}
	return 0, nil
}

func literalInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// walkOne transcodes a single element of field f at the cursor, advancing
// w.pos, and returns the element's integer value (meaningful for scalar
// primitives; 0 for structs/strings).
func (w *walker) walkOne(f schema.Field) (int64, error) {
	if f.RefKind == schema.RefBlockRef {
		return w.walkRef()
	}
	if f.RefKind == schema.RefStringIndex {
		return w.walkStringIndex()
	}

	if prim, ok := w.sch.Primitives[f.Type]; ok {
		return w.walkPrimitive(prim)
	}
	if e, ok := w.sch.Enums[f.Type]; ok {
		if prim, ok := w.sch.Primitives[e.Storage]; ok {
			return w.walkPrimitive(prim)
		}
		return 0, utils.WrapError(utils.KindSchemaMiss, f.Type, fmt.Errorf("enum storage %q unknown", e.Storage))
	}
	if b, ok := w.sch.Bitfields[f.Type]; ok {
		if prim, ok := w.sch.Primitives[b.Storage]; ok {
			return w.walkPrimitive(prim)
		}
		return 0, utils.WrapError(utils.KindSchemaMiss, f.Type, fmt.Errorf("bitfield storage %q unknown", b.Storage))
	}
	if st, ok := w.sch.Structs[f.Type]; ok {
		if _, err := w.walkFields(st.Fields); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return 0, utils.WrapError(utils.KindSchemaMiss, f.Type, fmt.Errorf("unknown field type for %q", f.Name))
}

func (w *walker) walkRef() (int64, error) {
	old, err := ioprim.ReadU32BE(w.buf, w.abs())
	if err != nil {
		return 0, err
	}
	if err := ioprim.SwapWidth(w.buf, w.abs(), 4); err != nil {
		return 0, err
	}
	if w.remap != nil {
		remapped := w.remap.apply(int32(old))
		if err := ioprim.WriteU32LE(w.buf, w.abs(), uint32(remapped)); err != nil {
			return 0, err
		}
	}
	w.pos += 4
	return int64(int32(old)), nil
}

func (w *walker) walkStringIndex() (int64, error) {
	old, err := ioprim.ReadU32BE(w.buf, w.abs())
	if err != nil {
		return 0, err
	}
	if err := ioprim.SwapWidth(w.buf, w.abs(), 4); err != nil {
		return 0, err
	}
	w.pos += 4
	return int64(int32(old)), nil
}

func (w *walker) walkPrimitive(p schema.Primitive) (int64, error) {
	switch p.Var {
	case schema.VarNone:
		switch p.Width {
		case 1:
			v, err := ioprim.ReadU8(w.buf, w.abs())
			if err != nil {
				return 0, err
			}
			w.pos++
			return int64(v), nil
		case 2:
			v, err := ioprim.ReadU16BE(w.buf, w.abs())
			if err != nil {
				return 0, err
			}
			if err := ioprim.SwapWidth(w.buf, w.abs(), 2); err != nil {
				return 0, err
			}
			w.pos += 2
			return int64(v), nil
		case 4:
			v, err := ioprim.ReadU32BE(w.buf, w.abs())
			if err != nil {
				return 0, err
			}
			if err := ioprim.SwapWidth(w.buf, w.abs(), 4); err != nil {
				return 0, err
			}
			w.pos += 4
			return int64(v), nil
		case 8:
			v, err := ioprim.ReadU64BE(w.buf, w.abs())
			if err != nil {
				return 0, err
			}
			if err := ioprim.SwapWidth(w.buf, w.abs(), 8); err != nil {
				return 0, err
			}
			w.pos += 8
			return int64(v), nil
		default:
			return 0, utils.WrapError(utils.KindSchemaMiss, p.Name, fmt.Errorf("unsupported primitive width %d", p.Width))
		}
	case schema.VarSizedString:
		n, err := ioprim.ReadU32BE(w.buf, w.abs())
		if err != nil {
			return 0, err
		}
		if err := ioprim.SwapWidth(w.buf, w.abs(), 4); err != nil {
			return 0, err
		}
		w.pos += 4
		if err := w.skipBytes(int(n)); err != nil {
			return 0, err
		}
		return 0, nil
	case schema.VarShortString:
		n, err := ioprim.ReadU8(w.buf, w.abs())
		if err != nil {
			return 0, err
		}
		w.pos++
		if err := w.skipBytes(int(n)); err != nil {
			return 0, err
		}
		return 0, nil
	default:
		return 0, utils.WrapError(utils.KindSchemaMiss, p.Name, fmt.Errorf("unsupported variable-length primitive in block body"))
	}
}
