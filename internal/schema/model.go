// Package schema implements the in-memory block/struct/enum/bitfield schema
// model, its XML loader, and the two embedded-expression evaluators (the
// version-guard grammar and the field-condition grammar) that gate which
// fields of a block are present for a given NIF version and prior field
// values. A Schema is loaded once per process and is safe for concurrent
// read access by independent conversions; nothing in this package mutates
// a Schema after Flatten has run.
package schema

import "fmt"

// VarKind distinguishes the variable-length primitive encodings from the
// fixed-width ones.
type VarKind int

const (
	// VarNone marks a fixed-width primitive (width carried in Primitive.Width).
	VarNone VarKind = iota
	// VarSizedString is a u32 length prefix followed by that many ASCII bytes.
	VarSizedString
	// VarShortString is a u8 length prefix followed by that many ASCII bytes.
	VarShortString
	// VarLine is a newline-terminated ASCII string.
	VarLine
	// VarNullTerminated is a NUL-terminated ASCII string.
	VarNullTerminated
	// VarHeaderString is the ASCII magic string through the first 0x0A.
	VarHeaderString
)

// Primitive describes one of the schema's built-in scalar types.
type Primitive struct {
	Name string
	// Width is the fixed byte width, or 0 when VarKind != VarNone.
	Width int
	Var   VarKind
}

// FieldKindRef marks the special reference-like field types that carry
// extra rewrite semantics beyond "read N bytes and maybe swap them".
type FieldKindRef int

const (
	// RefNone is an ordinary field (primitive, struct, enum, bitfield, or object type name).
	RefNone FieldKindRef = iota
	// RefBlockRef is a 4-byte signed block index (the "Ref"/"Ptr" field types).
	RefBlockRef
	// RefStringIndex is a 4-byte index into the container's string table.
	RefStringIndex
)

// Field is one entry in a Struct's or Object's field list.
type Field struct {
	Name string
	Type string

	// Length resolves a repeat count: "" means 1, a decimal literal means a
	// fixed count, anything else names a previously-read field (or schema
	// constant) supplying the count at run time.
	Length string

	// VersionCond and Condition are raw, uncompiled expression strings (see
	// VersionExpr / FieldExpr for compiled forms). Empty means "always true".
	VersionCond string
	Condition   string

	// Arg and Template mirror the NIF schema's "arg"/"template" field
	// attributes, used by some collection/reference fields to parameterize
	// the referenced type; Arg feeds the field-condition evaluator's
	// #ARG# atom.
	Arg      string
	Template string

	RefKind FieldKindRef
}

// StructDef is an ordered, non-inheriting list of fields with an optional
// known fixed size.
type StructDef struct {
	Name      string
	Fields    []Field
	FixedSize int // -1 when not statically known (contains variable-length fields)
}

// ObjectDef is a block type: an ordered field list plus single-parent
// inheritance. AllFields is populated by (*Schema).Flatten and is the
// ancestor-to-descendant concatenation of every Fields list in the chain.
type ObjectDef struct {
	Name      string
	Inherit   string
	Fields    []Field
	AllFields []Field
}

// EnumDef and BitfieldDef both reduce to their underlying storage
// primitive's width; the distinct types exist so the schema can validate
// that enum/bitfield values are only ever treated as that primitive.
type EnumDef struct {
	Name    string
	Storage string
}

// BitfieldDef is a bit-packed integer; like EnumDef it inherits its storage
// primitive's width for swap purposes.
type BitfieldDef struct {
	Name    string
	Storage string
}

// Schema is the full set of type definitions loaded from one XML
// description. Construct with New or Load; do not mutate after Flatten.
type Schema struct {
	Primitives map[string]Primitive
	Structs    map[string]*StructDef
	Objects    map[string]*ObjectDef
	Enums      map[string]*EnumDef
	Bitfields  map[string]*BitfieldDef
}

// New returns an empty Schema pre-populated with the fixed built-in
// primitive set every NIF schema description assumes.
func New() *Schema {
	return &Schema{
		Primitives: defaultPrimitives(),
		Structs:    map[string]*StructDef{},
		Objects:    map[string]*ObjectDef{},
		Enums:      map[string]*EnumDef{},
		Bitfields:  map[string]*BitfieldDef{},
	}
}

func defaultPrimitives() map[string]Primitive {
	mk := func(name string, width int, v VarKind) Primitive { return Primitive{Name: name, Width: width, Var: v} }
	prims := map[string]Primitive{
		"byte":             mk("byte", 1, VarNone),
		"char":             mk("char", 1, VarNone),
		"bool":             mk("bool", 1, VarNone),
		"short":            mk("short", 2, VarNone),
		"ushort":           mk("ushort", 2, VarNone),
		"int":              mk("int", 4, VarNone),
		"uint":             mk("uint", 4, VarNone),
		"int64":            mk("int64", 8, VarNone),
		"uint64":           mk("uint64", 8, VarNone),
		"float":            mk("float", 4, VarNone),
		"hfloat":           mk("hfloat", 2, VarNone),
		"Ref":              mk("Ref", 4, VarNone),
		"Ptr":              mk("Ptr", 4, VarNone),
		"StringIndex":      mk("StringIndex", 4, VarNone),
		"SizedString":      mk("SizedString", 0, VarSizedString),
		"ShortString":      mk("ShortString", 0, VarShortString),
		"line":             mk("line", 0, VarLine),
		"null-terminated":  mk("null-terminated", 0, VarNullTerminated),
		"HeaderString":     mk("HeaderString", 0, VarHeaderString),
	}
	return prims
}

// GetObject returns the named object definition.
func (s *Schema) GetObject(name string) (*ObjectDef, bool) {
	o, ok := s.Objects[name]
	return o, ok
}

// GetStruct returns the named struct definition.
func (s *Schema) GetStruct(name string) (*StructDef, bool) {
	st, ok := s.Structs[name]
	return st, ok
}

// GetTypeSize returns the fixed byte width of name if name is a
// fixed-width primitive, enum, bitfield, or a struct whose own FixedSize is
// known. Returns (0, false) for variable-length or unknown types.
func (s *Schema) GetTypeSize(name string) (int, bool) {
	if p, ok := s.Primitives[name]; ok {
		if p.Var != VarNone {
			return 0, false
		}
		return p.Width, true
	}
	if e, ok := s.Enums[name]; ok {
		return s.GetTypeSize(e.Storage)
	}
	if b, ok := s.Bitfields[name]; ok {
		return s.GetTypeSize(b.Storage)
	}
	if st, ok := s.Structs[name]; ok {
		if st.FixedSize >= 0 {
			return st.FixedSize, true
		}
		return 0, false
	}
	return 0, false
}

// MinSize sums the width of only those fields of obj whose version_cond and
// condition guards are the unconditional-true empty string. Fields with any
// guard, or of unknown/variable type, are excluded rather than guessed at.
func (s *Schema) MinSize(obj *ObjectDef) (int, bool) {
	total := 0
	for _, f := range obj.AllFields {
		if f.VersionCond != "" || f.Condition != "" {
			continue
		}
		count := 1
		if f.Length != "" {
			n, ok := parseLiteralLength(f.Length)
			if !ok {
				// A guaranteed-length array contributes only when the count is a
				// literal; field-name-driven counts are not known at this static pass.
				continue
			}
			count = n
		}
		w, ok := s.GetTypeSize(f.Type)
		if !ok {
			continue
		}
		total += w * count
	}
	return total, true
}

// Flatten walks every object's `inherit` chain, detects cycles, and
// populates each ObjectDef.AllFields as the concatenation of fields from the
// topmost ancestor down to the object itself. Call once after all objects
// have been registered (e.g. right after Load).
func (s *Schema) Flatten() error {
	visiting := map[string]bool{}
	done := map[string]bool{}

	var flattenOne func(name string) ([]Field, error)
	flattenOne = func(name string) ([]Field, error) {
		obj, ok := s.Objects[name]
		if !ok {
			return nil, fmt.Errorf("schema: inherit references unknown object %q", name)
		}
		if done[name] {
			return obj.AllFields, nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("schema: inheritance cycle detected at %q", name)
		}
		visiting[name] = true

		var all []Field
		if obj.Inherit != "" {
			parentFields, err := flattenOne(obj.Inherit)
			if err != nil {
				return nil, err
			}
			all = append(all, parentFields...)
		}
		all = append(all, obj.Fields...)

		obj.AllFields = all
		visiting[name] = false
		done[name] = true
		return all, nil
	}

	for name := range s.Objects {
		if _, err := flattenOne(name); err != nil {
			return err
		}
	}
	return nil
}

// Validate runs Flatten (to surface cycles) and checks that every field's
// Type and every object's Inherit resolve to a known schema entry.
func Validate(s *Schema) error {
	if err := s.Flatten(); err != nil {
		return err
	}
	resolves := func(typeName string) bool {
		if _, ok := s.Primitives[typeName]; ok {
			return true
		}
		if _, ok := s.Structs[typeName]; ok {
			return true
		}
		if _, ok := s.Objects[typeName]; ok {
			return true
		}
		if _, ok := s.Enums[typeName]; ok {
			return true
		}
		if _, ok := s.Bitfields[typeName]; ok {
			return true
		}
		return false
	}
	for name, obj := range s.Objects {
		for _, f := range obj.Fields {
			if !resolves(f.Type) {
				return fmt.Errorf("schema: object %q field %q has unknown type %q", name, f.Name, f.Type)
			}
		}
	}
	for name, st := range s.Structs {
		for _, f := range st.Fields {
			if !resolves(f.Type) {
				return fmt.Errorf("schema: struct %q field %q has unknown type %q", name, f.Name, f.Type)
			}
		}
	}
	return nil
}
