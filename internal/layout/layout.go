// Package layout computes the index remap and size accounting needed to
// emit a converted NIF: which blocks survive, what their new sizes are once
// packed-geometry/skin/Havok expansion is applied, and how the block-type
// name table compacts once removed blocks drop their only references.
package layout

import (
	"fmt"

	"github.com/nif360/transcoder/internal/container"
	"github.com/nif360/transcoder/internal/utils"
)

// Plan is the computed remap for one conversion: old block index to new
// block index (or -1 for a removed block), each surviving block's new size,
// and the compacted block-type-name table.
type Plan struct {
	// NewBlockIndex[old] is the surviving block's new index, or -1 if the
	// block at old was removed (a spliced-away BSPackedAdditionalGeometryData).
	NewBlockIndex []int32

	// Survivors lists old indices that survive, in original relative order.
	Survivors []int

	// NewBlockSize[old] holds the surviving block's emitted size; entries
	// for removed blocks are left at zero and unused.
	NewBlockSize []uint32

	// NewBlockTypeNames is the compacted type-name table: only names still
	// referenced by a surviving block, in their original table order.
	NewBlockTypeNames []string

	// NewTypeIndexOf[oldTypeIndex] gives the compacted table's index for a
	// type name that is still referenced; entries for retired types are
	// unused (no surviving block references them).
	NewTypeIndexOf []uint16

	// HeaderSize and FooterSize are the byte lengths of the new header
	// (through the group table) and new footer (num_roots + roots).
	HeaderSize int
	FooterSize int

	// TotalSize is HeaderSize + sum(NewBlockSize over survivors) + FooterSize.
	TotalSize uint64
}

// SizeOverride supersedes a block's original size with an expander-computed
// one (packed-geometry growth, skin-partition growth/shrink, Havok growth).
type SizeOverride struct {
	BlockIndex int
	NewSize    uint32
}

// Build computes a Plan from a parsed container view. removed names block
// indices whose bytes are dropped entirely (their geometry is spliced into
// another block); overrides gives the new size for any surviving block
// whose size changed. Blocks absent from overrides keep their original
// container size. headerSize and footerSize are the new header/footer
// lengths after endian-byte and any other fixed-size field substitutions
// (which never change length, so these normally equal the container's own
// HeaderSize/FooterSize, but are accepted explicitly so the writer's own
// accounting is the single source of truth).
func Build(view *container.ContainerView, removed map[int]bool, overrides []SizeOverride, headerSize, footerSize int) (*Plan, error) {
	overrideSize := make(map[int]uint32, len(overrides))
	for _, o := range overrides {
		if o.BlockIndex < 0 || o.BlockIndex >= len(view.Blocks) {
			return nil, utils.NewError(utils.KindInternalInvariantViolation,
				fmt.Sprintf("layout: size override for out-of-range block %d", o.BlockIndex))
		}
		overrideSize[o.BlockIndex] = o.NewSize
	}

	p := &Plan{
		NewBlockIndex: make([]int32, len(view.Blocks)),
		NewBlockSize:  make([]uint32, len(view.Blocks)),
		HeaderSize:    headerSize,
		FooterSize:    footerSize,
	}

	nextIndex := int32(0)
	usedTypeIndex := make(map[uint16]bool)
	for _, b := range view.Blocks {
		if removed[b.Index] {
			p.NewBlockIndex[b.Index] = -1
			continue
		}
		p.NewBlockIndex[b.Index] = nextIndex
		p.Survivors = append(p.Survivors, b.Index)
		usedTypeIndex[b.TypeIndex] = true

		sz := b.Size
		if ov, ok := overrideSize[b.Index]; ok {
			sz = ov
		}
		p.NewBlockSize[b.Index] = sz
		nextIndex++
	}

	p.NewBlockTypeNames, p.NewTypeIndexOf = compactTypeNames(view.BlockTypeNames, usedTypeIndex)

	sizes := make([]uint64, 0, len(p.Survivors))
	for _, old := range p.Survivors {
		sizes = append(sizes, uint64(p.NewBlockSize[old]))
	}
	bodySize, err := utils.SumBlockSizes(sizes)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternalInvariantViolation, "layout: summing surviving block sizes", err)
	}

	total, err := utils.SafeAdd(uint64(headerSize), bodySize)
	if err != nil {
		return nil, utils.WrapError(utils.KindInternalInvariantViolation, "layout: header + body", err)
	}
	total, err = utils.SafeAdd(total, uint64(footerSize))
	if err != nil {
		return nil, utils.WrapError(utils.KindInternalInvariantViolation, "layout: + footer", err)
	}
	p.TotalSize = total

	return p, nil
}

// Finalize recomputes TotalSize from the plan's already-built block sizes
// plus a header/footer length discovered after the fact (the writer must
// serialize the header before it knows its exact byte length, since the
// compacted type-name table's size depends on this same plan). Build's own
// headerSize/footerSize arguments may be passed as 0 when the caller intends
// to call Finalize once real lengths are known.
func (p *Plan) Finalize(headerSize, footerSize int) error {
	sizes := make([]uint64, 0, len(p.Survivors))
	for _, old := range p.Survivors {
		sizes = append(sizes, uint64(p.NewBlockSize[old]))
	}
	bodySize, err := utils.SumBlockSizes(sizes)
	if err != nil {
		return utils.WrapError(utils.KindInternalInvariantViolation, "layout: summing surviving block sizes", err)
	}
	total, err := utils.SafeAdd(uint64(headerSize), bodySize)
	if err != nil {
		return utils.WrapError(utils.KindInternalInvariantViolation, "layout: header + body", err)
	}
	total, err = utils.SafeAdd(total, uint64(footerSize))
	if err != nil {
		return utils.WrapError(utils.KindInternalInvariantViolation, "layout: + footer", err)
	}
	p.HeaderSize = headerSize
	p.FooterSize = footerSize
	p.TotalSize = total
	return nil
}

// compactTypeNames drops any type name with no surviving reference,
// preserving the relative order of the names that remain.
func compactTypeNames(names []string, used map[uint16]bool) ([]string, []uint16) {
	newIndexOf := make([]uint16, len(names))
	var compacted []string
	for old, name := range names {
		if !used[uint16(old)] {
			continue
		}
		newIndexOf[old] = uint16(len(compacted))
		compacted = append(compacted, name)
	}
	return compacted, newIndexOf
}

// RemapRef translates an old block index into its new one, leaving -1 (no
// reference) and already-removed targets as -1. Used by the writer's field
// swap pass to fix up ref/ptr fields after blocks are removed/reordered.
func (p *Plan) RemapRef(oldRef int32) int32 {
	if oldRef < 0 || int(oldRef) >= len(p.NewBlockIndex) {
		return -1
	}
	return p.NewBlockIndex[oldRef]
}

// RemapTypeIndex translates an old block-type-table index into its
// compacted position in NewBlockTypeNames.
func (p *Plan) RemapTypeIndex(oldTypeIndex uint16) uint16 {
	if int(oldTypeIndex) >= len(p.NewTypeIndexOf) {
		return 0
	}
	return p.NewTypeIndexOf[oldTypeIndex]
}
