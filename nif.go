// Package nif converts Xbox 360 Bethesda NIF/KF files (Fallout 3, Fallout:
// New Vegas, Oblivion) into their little-endian PC-compatible form. It
// exposes three entry points — CanConvert, Convert, Probe — and delegates
// everything else to internal/container, internal/transcode,
// internal/geometry, internal/skin, internal/havok, internal/layout and
// internal/writer.
package nif

import (
	"github.com/nif360/transcoder/internal/container"
	"github.com/nif360/transcoder/internal/geometry"
	"github.com/nif360/transcoder/internal/havok"
	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/layout"
	"github.com/nif360/transcoder/internal/schema"
	"github.com/nif360/transcoder/internal/skin"
	"github.com/nif360/transcoder/internal/utils"
	"github.com/nif360/transcoder/internal/writer"
	"github.com/nif360/transcoder/log"
)

// ConvertOptions configures a single Convert call. A zero value uses the
// package-default schema, leaves the package-global logger (log.SetLogger)
// as it is, and uses the container parser's default block-size/block-count
// ceiling. A non-nil Logger is installed with log.SetLogger and stays
// installed after Convert returns.
type ConvertOptions struct {
	Logger       log.Logger
	MaxBlockSize uint64
	MaxBlocks    uint32
	Schema       *schema.Schema
}

func (o ConvertOptions) maxBlockSize() uint64 {
	if o.MaxBlockSize == 0 {
		return utils.MaxBlockSize
	}
	return o.MaxBlockSize
}

func (o ConvertOptions) maxBlocks() uint32 {
	if o.MaxBlocks == 0 {
		return utils.MaxBlocks
	}
	return o.MaxBlocks
}

// Metadata describes what the host already knows about the input bytes,
// used alongside the signature ID by CanConvert to decide whether this
// package should even attempt the file.
type Metadata struct {
	BigEndian bool
}

// ConversionOutcome is the result of a Convert call. The transcoder never
// panics or returns a partial buffer: Success is false and OutputBytes is
// nil whenever Error is non-nil.
type ConversionOutcome struct {
	Success     bool
	OutputBytes []byte
	Notes       []string
	Error       error
}

// ProbeResult is the parsed header summary Probe returns, enough to
// estimate output size and classify content without converting the file.
type ProbeResult struct {
	HeaderString    string
	BinaryVersion   uint32
	UserVersion     uint32
	BSVersion       uint32
	IsBigEndian     bool
	NumBlocks       int
	Content         string // "geometry", "animation", "mixed", "unknown"
	Extension       string // ".nif" or ".kf"
	EstimatedBytes  int
}

// CanConvert reports whether this package should attempt to convert the
// given input: only big-endian NIF files are in scope.
func CanConvert(signatureID string, metadata Metadata) bool {
	return signatureID == "nif" && metadata.BigEndian
}

// Convert rewrites a big-endian Xbox 360 NIF buffer into little-endian PC
// form. An already-little-endian input is returned unchanged with a note,
// not an error.
func Convert(buf []byte, opts ConvertOptions) ConversionOutcome {
	if opts.Logger != nil {
		log.SetLogger(opts.Logger)
	}
	sch := opts.Schema
	if sch == nil {
		loaded, err := schema.LoadDefault()
		if err != nil {
			return ConversionOutcome{Error: utils.WrapError(utils.KindInternalInvariantViolation, "loading default schema", err)}
		}
		sch = loaded
	}

	view, err := container.ParseWithLimits(buf, opts.maxBlockSize(), opts.maxBlocks())
	if err != nil {
		return ConversionOutcome{Error: err}
	}

	if !view.IsBigEndian {
		out := make([]byte, len(buf))
		copy(out, buf)
		return ConversionOutcome{
			Success:     true,
			OutputBytes: out,
			Notes:       []string{"already little-endian"},
		}
	}

	vt := schema.VersionTriple{Version: view.BinaryVersion, UserVersion: view.UserVersion, BSVersion: view.BSVersion}

	plan := newConversionPlan(buf, view, vt)
	plan.build()

	res, err := writer.Emit(buf, view, sch, vt, plan.removed, plan.overrides, plan.special)
	if err != nil {
		return ConversionOutcome{Error: err}
	}

	notes := append(plan.notes, res.Notes...)
	return ConversionOutcome{Success: true, OutputBytes: res.Bytes, Notes: notes}
}

// Probe parses just the header/directory/footer starting at offset and
// classifies the file's content without performing the conversion.
func Probe(buf []byte, offset int) (*ProbeResult, error) {
	view, err := container.Parse(buf[offset:])
	if err != nil {
		return nil, err
	}

	content := classifyContent(view.BlockTypeNames)
	ext := ".nif"
	if content == "animation" {
		ext = ".kf"
	}

	estimated := view.HeaderSize + view.FooterSize
	for _, b := range view.Blocks {
		estimated += int(b.Size)
	}

	return &ProbeResult{
		HeaderString:   view.HeaderString,
		BinaryVersion:  view.BinaryVersion,
		UserVersion:    view.UserVersion,
		BSVersion:      view.BSVersion,
		IsBigEndian:    view.IsBigEndian,
		NumBlocks:      len(view.Blocks),
		Content:        content,
		Extension:      ext,
		EstimatedBytes: estimated,
	}, nil
}

var geometryTypeNames = map[string]bool{
	"BSFadeNode": true, "NiNode": true, "NiTriStrips": true, "NiTriStripsData": true,
	"NiTriShape": true, "NiTriShapeData": true, "BSShaderProperty": true,
	"NiMaterialProperty": true, "BSPackedAdditionalGeometryData": true,
	"NiSkinInstance": true, "NiSkinData": true, "NiSkinPartition": true,
}

var animationTypeNames = map[string]bool{
	"NiControllerSequence": true, "NiTextKeyExtraData": true, "NiStringPalette": true,
	"NiControllerManager": true, "NiMultiTargetTransformController": true,
	"NiBlendTransformInterpolator": true,
}

func classifyContent(typeNames []string) string {
	hasGeometry, hasAnimation := false, false
	for _, name := range typeNames {
		if geometryTypeNames[name] || hasPrefix(name, "bhk") || hasPrefix(name, "BSShader") || hasPrefix(name, "NiTransform") || hasPrefix(name, "NiBSpline") {
			hasGeometry = hasGeometry || geometryTypeNames[name] || hasPrefix(name, "bhk") || hasPrefix(name, "BSShader")
			hasAnimation = hasAnimation || hasPrefix(name, "NiTransform") || hasPrefix(name, "NiBSpline")
		}
		if animationTypeNames[name] {
			hasAnimation = true
		}
	}
	switch {
	case hasGeometry && hasAnimation:
		return "mixed"
	case hasGeometry:
		return "geometry"
	case hasAnimation:
		return "animation"
	default:
		return "unknown"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// conversionPlan accumulates the layout/writer inputs for one Convert call:
// which blocks are removed, which grow, and which need a dedicated encoder.
type conversionPlan struct {
	src  []byte
	view *container.ContainerView
	vt   schema.VersionTriple

	removed   map[int]bool
	overrides []layout.SizeOverride
	special   map[int]writer.SpecialWriter
	notes     []string
}

func newConversionPlan(src []byte, view *container.ContainerView, vt schema.VersionTriple) *conversionPlan {
	return &conversionPlan{
		src:     src,
		view:    view,
		vt:      vt,
		removed: map[int]bool{},
		special: map[int]writer.SpecialWriter{},
	}
}

func (p *conversionPlan) note(msg string) { p.notes = append(p.notes, msg) }

func (p *conversionPlan) build() {
	for _, b := range p.view.Blocks {
		switch b.TypeName {
		case "NiTriShape", "NiTriStrips":
			p.planShape(b)
		}
	}
	for _, b := range p.view.Blocks {
		if p.removed[b.Index] {
			continue
		}
		if _, handled := p.special[b.Index]; handled {
			continue
		}
		switch b.TypeName {
		case "hkPackedNiTriStripsData":
			p.planHavok(b)
		case "NiSkinPartition":
			p.fallbackRawSwap(b, "no linked packed-geometry block found for skin partition expansion")
		case "BSPackedAdditionalGeometryData":
			p.fallbackRawSwap(b, "packed geometry block referenced by no surviving NiTriShape/NiTriStrips")
		}
	}
}

func (p *conversionPlan) planShape(shape container.BlockInfo) {
	links, err := scanShapeLinks(p.src, shape.DataOffset, p.vt)
	if err != nil {
		p.note("shape " + shape.TypeName + ": link scan failed, left as generic block")
		return
	}

	packedIdx := -1
	for _, ref := range links.extraDataRefs {
		if ref >= 0 && int(ref) < len(p.view.Blocks) && p.view.Blocks[ref].TypeName == "BSPackedAdditionalGeometryData" {
			packedIdx = int(ref)
			break
		}
	}
	if packedIdx < 0 {
		return
	}
	if links.dataRef < 0 || int(links.dataRef) >= len(p.view.Blocks) {
		return
	}

	packedBlock := p.view.Blocks[packedIdx]
	packed, err := geometry.ScanPacked(p.src, packedIdx, packedBlock.DataOffset, int(packedBlock.Size))
	if err != nil {
		p.note("packed geometry block " + itoa(packedIdx) + ": scan failed, left in place")
		return
	}

	geomIdx := int(links.dataRef)
	geomBlock := p.view.Blocks[geomIdx]
	exp := geometry.PlanExpansion(geomIdx, int(geomBlock.Size), packed)

	p.overrides = append(p.overrides, layout.SizeOverride{BlockIndex: geomIdx, NewSize: uint32(exp.NewSize)})
	p.removed[packedIdx] = true
	p.special[geomIdx] = func(dst []byte, dstOffset int) (int, error) {
		return geometry.WriteShapeData(dst, dstOffset, p.src, geomBlock.DataOffset, int(geomBlock.Size), packed, geomBlock.TypeName)
	}

	p.planSkin(links, packed)
}

func (p *conversionPlan) planSkin(links shapeLinks, packed *geometry.Packed) {
	if links.skinInstanceRef < 0 || int(links.skinInstanceRef) >= len(p.view.Blocks) {
		return
	}
	siBlock := p.view.Blocks[links.skinInstanceRef]
	partitionRef, err := scanSkinPartitionRef(p.src, siBlock.DataOffset, p.vt)
	if err != nil || partitionRef < 0 || int(partitionRef) >= len(p.view.Blocks) {
		return
	}
	spBlock := p.view.Blocks[partitionRef]

	numPartitions, err := ioprim.ReadU32BE(p.src, spBlock.DataOffset)
	if err != nil {
		p.fallbackRawSwap(spBlock, "skin partition count read failed")
		return
	}
	partitions, _, err := skin.ParsePartitions(p.src, spBlock.DataOffset+4, int(numPartitions))
	if err != nil {
		p.fallbackRawSwap(spBlock, "skin partition parse failed: "+err.Error())
		return
	}

	offset := 0
	for _, part := range partitions {
		if err := skin.Expand(part, offset, packed); err != nil {
			p.fallbackRawSwap(spBlock, "skin partition expand failed: "+err.Error())
			return
		}
		if !part.HasVertexMap {
			offset += part.NumVertices
		}
	}

	newSize := 4
	for _, part := range partitions {
		newSize += part.Size()
	}
	p.overrides = append(p.overrides, layout.SizeOverride{BlockIndex: partitionRef, NewSize: uint32(newSize)})
	p.special[partitionRef] = func(dst []byte, dstOffset int) (int, error) {
		if err := ioprim.WriteU32LE(dst, dstOffset, numPartitions); err != nil {
			return 0, err
		}
		pos := dstOffset + 4
		for _, part := range partitions {
			n, err := skin.Write(dst, pos, part)
			if err != nil {
				return 0, err
			}
			pos += n
		}
		return pos - dstOffset, nil
	}
}

func (p *conversionPlan) planHavok(b container.BlockInfo) {
	exp, err := havok.Scan(p.src, b.Index, b.DataOffset, int(b.Size))
	if err != nil {
		p.fallbackRawSwap(b, "havok scan failed: "+err.Error())
		return
	}
	p.overrides = append(p.overrides, layout.SizeOverride{BlockIndex: b.Index, NewSize: uint32(exp.NewSize)})
	p.special[b.Index] = func(dst []byte, dstOffset int) (int, error) {
		return havok.Write(dst, dstOffset, p.src, b.DataOffset, int(b.Size), exp)
	}
}

// fallbackRawSwap registers a same-size bulk 32-bit swap for a block whose
// dedicated decoder couldn't run (no linked data, or a parse failure): the
// generic schema walker only has a placeholder field list for these three
// types (see internal/schema/data/nif.xml), so leaving them to it would
// silently under-swap the block body.
func (p *conversionPlan) fallbackRawSwap(b container.BlockInfo, reason string) {
	p.note("block " + itoa(b.Index) + " (" + b.TypeName + "): " + reason + ", applied bulk 32-bit swap fallback")
	log.Warn("dedicated decoder unavailable, bulk swap fallback",
		log.F("block", b.Index), log.F("type", b.TypeName), log.F("reason", reason))
	p.special[b.Index] = func(dst []byte, dstOffset int) (int, error) {
		copy(dst[dstOffset:dstOffset+int(b.Size)], p.src[b.DataOffset:b.DataOffset+int(b.Size)])
		writer.BulkSwap32(dst, dstOffset, int(b.Size))
		return int(b.Size), nil
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
