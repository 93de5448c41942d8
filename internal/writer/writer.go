// Package writer emits the converted, little-endian NIF container in a
// single pass: header through group table, then each surviving block in
// original order (either copied and field-swapped in place, or delegated to
// a block-specific encoder), then the footer.
package writer

import (
	"fmt"

	"github.com/nif360/transcoder/internal/container"
	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/layout"
	"github.com/nif360/transcoder/internal/schema"
	"github.com/nif360/transcoder/internal/transcode"
	"github.com/nif360/transcoder/internal/utils"
	"github.com/nif360/transcoder/log"
)

// SpecialWriter emits one block's new little-endian bytes into
// dst[dstOffset:], returning the number of bytes written. Used for block
// types with a dedicated decoder (packed geometry, skin partitions, Havok)
// instead of the generic schema-driven field swap.
type SpecialWriter func(dst []byte, dstOffset int) (int, error)

// Result is the outcome of one Emit call.
type Result struct {
	Bytes []byte
	Plan  *layout.Plan
	// Notes records non-fatal recoveries (schema-miss fallbacks) in the
	// order they occurred, for surfacing in ConversionOutcome.notes.
	Notes []string
}

// Emit builds the full converted file. removed and overrides feed
// layout.Build directly; special supplies a per-block (by original index)
// override for blocks whose body needs a dedicated encoder rather than the
// generic in-place field swap.
func Emit(
	src []byte,
	view *container.ContainerView,
	sch *schema.Schema,
	vt schema.VersionTriple,
	removed map[int]bool,
	overrides []layout.SizeOverride,
	special map[int]SpecialWriter,
) (*Result, error) {
	plan, err := layout.Build(view, removed, overrides, 0, 0)
	if err != nil {
		return nil, err
	}
	remap := transcode.Remap(plan.NewBlockIndex)

	header, err := buildHeader(view, plan)
	if err != nil {
		return nil, err
	}

	footerSize := 4 + 4*len(view.Roots)
	if err := plan.Finalize(len(header), footerSize); err != nil {
		return nil, err
	}

	out := make([]byte, plan.TotalSize)
	copy(out, header)

	var notes []string
	pos := len(header)
	for _, old := range plan.Survivors {
		b := view.Blocks[old]
		newSize := int(plan.NewBlockSize[old])
		if sw, ok := special[old]; ok {
			n, err := sw(out, pos)
			if err != nil {
				return nil, utils.WrapError(utils.KindExpanderParseFailure,
					fmt.Sprintf("block %d (%s) special writer", old, b.TypeName), err)
			}
			if n != newSize {
				return nil, utils.NewError(utils.KindInternalInvariantViolation,
					fmt.Sprintf("block %d (%s): special writer wrote %d bytes, plan expected %d", old, b.TypeName, n, newSize))
			}
			pos += newSize
			continue
		}

		copy(out[pos:pos+newSize], src[b.DataOffset:b.DataOffset+int(b.Size)])
		if err := transcode.Block(out, pos, newSize, b.TypeName, sch, vt, remap); err != nil {
			bulkSwap32(out, pos, newSize)
			note := fmt.Sprintf("block %d (%s): %v, applied bulk 32-bit swap fallback", old, b.TypeName, err)
			log.Warn("schema miss, bulk swap fallback", log.F("block", old), log.F("type", b.TypeName), log.F("cause", err.Error()))
			notes = append(notes, note)
		}
		pos += newSize
	}

	if err := writeFooter(out, pos, view, plan); err != nil {
		return nil, err
	}

	return &Result{Bytes: out, Plan: plan, Notes: notes}, nil
}

func buildHeader(view *container.ContainerView, plan *layout.Plan) ([]byte, error) {
	var buf []byte

	buf = append(buf, []byte(view.HeaderString)...)
	buf = appendU32LE(buf, view.BinaryVersion)
	buf = append(buf, 1) // endian byte: little-endian
	buf = appendU32LE(buf, view.UserVersion)
	buf = appendU32LE(buf, uint32(len(plan.Survivors)))

	if view.HasBSHeader {
		buf = appendU32LE(buf, view.BSVersion)
		buf = append(buf, byte(len(view.Author)))
		buf = append(buf, []byte(view.Author)...)
	}

	buf = appendU16LE(buf, uint16(len(plan.NewBlockTypeNames)))
	for _, name := range plan.NewBlockTypeNames {
		buf = appendU32LE(buf, uint32(len(name)))
		buf = append(buf, []byte(name)...)
	}

	for _, old := range plan.Survivors {
		b := view.Blocks[old]
		buf = appendU16LE(buf, plan.RemapTypeIndex(b.TypeIndex))
	}
	for _, old := range plan.Survivors {
		buf = appendU32LE(buf, plan.NewBlockSize[old])
	}

	buf = appendU32LE(buf, uint32(len(view.Strings)))
	buf = appendU32LE(buf, maxStringLength(view.Strings))
	for _, s := range view.Strings {
		buf = appendU32LE(buf, uint32(len(s)))
		buf = append(buf, []byte(s)...)
	}

	buf = appendU32LE(buf, view.NumGroups)
	for _, g := range view.Groups {
		buf = appendU32LE(buf, g)
	}

	return buf, nil
}

func writeFooter(out []byte, pos int, view *container.ContainerView, plan *layout.Plan) error {
	if err := ioprim.WriteU32LE(out, pos, uint32(len(view.Roots))); err != nil {
		return err
	}
	pos += 4
	for _, r := range view.Roots {
		remapped := plan.RemapRef(r)
		if err := ioprim.WriteU32LE(out, pos, uint32(remapped)); err != nil {
			return err
		}
		pos += 4
	}
	return nil
}

func maxStringLength(strs []string) uint32 {
	var max uint32
	for _, s := range strs {
		if uint32(len(s)) > max {
			max = uint32(len(s))
		}
	}
	return max
}

func appendU32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU16LE(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

// BulkSwap32 swaps every 4-byte group in buf[offset:offset+size] in place,
// the lossy fallback used when a block's type has no usable schema entry
// (either a true schema miss, or a dedicated-decoder type the root package
// could not link to its supporting data this time). Any trailing bytes that
// don't complete a 4-byte group are left untouched.
func BulkSwap32(buf []byte, offset, size int) {
	n := size / 4
	for i := 0; i < n; i++ {
		p := offset + i*4
		_ = ioprim.SwapWidth(buf, p, 4)
	}
}

func bulkSwap32(buf []byte, offset, size int) { BulkSwap32(buf, offset, size) }
