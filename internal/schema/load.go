package schema

import (
	"embed"
	"encoding/xml"
	"fmt"
)

//go:embed data/nif.xml
var defaultSchemaFS embed.FS

// xmlSchema mirrors the embedded description's element shape directly; the
// exported Schema type (model.go) is what the rest of the transcoder consumes.
type xmlSchema struct {
	XMLName   xml.Name     `xml:"niftoolsxml"`
	Structs   []xmlStruct  `xml:"struct"`
	Enums     []xmlEnum    `xml:"enum"`
	Bitfields []xmlBitfld  `xml:"bitfield"`
	Objects   []xmlObject  `xml:"niobject"`
}

type xmlField struct {
	Name        string `xml:"name,attr"`
	Type        string `xml:"type,attr"`
	Length      string `xml:"length,attr"`
	VersionCond string `xml:"vercond,attr"`
	Condition   string `xml:"cond,attr"`
	Arg         string `xml:"arg,attr"`
	Template    string `xml:"template,attr"`
	Ref         string `xml:"ref,attr"` // "block" or "string", empty otherwise
}

type xmlStruct struct {
	Name   string     `xml:"name,attr"`
	Fields []xmlField `xml:"add"`
}

type xmlObject struct {
	Name    string     `xml:"name,attr"`
	Inherit string     `xml:"inherit,attr"`
	Fields  []xmlField `xml:"add"`
}

type xmlEnum struct {
	Name    string `xml:"name,attr"`
	Storage string `xml:"storage,attr"`
}

type xmlBitfld struct {
	Name    string `xml:"name,attr"`
	Storage string `xml:"storage,attr"`
}

func refKind(ref string) FieldKindRef {
	switch ref {
	case "block":
		return RefBlockRef
	case "string":
		return RefStringIndex
	default:
		return RefNone
	}
}

func toFields(xfs []xmlField) []Field {
	out := make([]Field, 0, len(xfs))
	for _, xf := range xfs {
		out = append(out, Field{
			Name:        xf.Name,
			Type:        xf.Type,
			Length:      xf.Length,
			VersionCond: xf.VersionCond,
			Condition:   xf.Condition,
			Arg:         xf.Arg,
			Template:    xf.Template,
			RefKind:     refKind(xf.Ref),
		})
	}
	return out
}

// Load parses an XML schema description (the format bundled as the default
// schema, and accepted verbatim from an external source for callers that
// want to supply their own). It always returns a Flatten-ed, Validate-d
// schema or an error describing the first problem found.
func Load(data []byte) (*Schema, error) {
	var doc xmlSchema
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse xml: %w", err)
	}

	s := New()
	for _, xe := range doc.Enums {
		s.Enums[xe.Name] = &EnumDef{Name: xe.Name, Storage: xe.Storage}
	}
	for _, xb := range doc.Bitfields {
		s.Bitfields[xb.Name] = &BitfieldDef{Name: xb.Name, Storage: xb.Storage}
	}
	for _, xs := range doc.Structs {
		fields := toFields(xs.Fields)
		fixedSize := -1
		if sz, ok := structFixedSize(s, fields); ok {
			fixedSize = sz
		}
		s.Structs[xs.Name] = &StructDef{Name: xs.Name, Fields: fields, FixedSize: fixedSize}
	}
	for _, xo := range doc.Objects {
		s.Objects[xo.Name] = &ObjectDef{Name: xo.Name, Inherit: xo.Inherit, Fields: toFields(xo.Fields)}
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// structFixedSize computes a struct's fixed byte width when every field is
// unconditional and of statically known width; returns false otherwise (the
// struct is variable-length, e.g. it ends in a SizedString).
func structFixedSize(s *Schema, fields []Field) (int, bool) {
	total := 0
	for _, f := range fields {
		if f.VersionCond != "" || f.Condition != "" {
			return 0, false
		}
		count := 1
		if f.Length != "" {
			n, ok := parseLiteralLength(f.Length)
			if !ok {
				return 0, false
			}
			count = n
		}
		w, ok := s.GetTypeSize(f.Type)
		if !ok {
			return 0, false
		}
		total += w * count
	}
	return total, true
}

func parseLiteralLength(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// LoadDefault parses the schema bundled with the transcoder, covering the
// block types used by Bethesda's Xbox 360 exports.
func LoadDefault() (*Schema, error) {
	data, err := defaultSchemaFS.ReadFile("data/nif.xml")
	if err != nil {
		return nil, fmt.Errorf("schema: read embedded default: %w", err)
	}
	return Load(data)
}
