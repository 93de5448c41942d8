// Package container parses and lays out the NIF file container: the header,
// block-type directory, per-block size table, string table, group table and
// footer described in the Bethesda Xbox 360 export format. It does not
// interpret block bodies — that is internal/transcode's job, driven by the
// schema.
package container

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/nif360/transcoder/internal/ioprim"
	"github.com/nif360/transcoder/internal/utils"
)

const (
	minBinaryVersion = 0x04000000
	maxBinaryVersion = 0x20000000
)

// versionStringPattern matches the dotted version text following the
// header string's prefix, e.g. "20.2.0.7": one to two digits, three more
// dot-separated one-to-two-digit groups.
var versionStringPattern = regexp.MustCompile(`^\d{1,2}(\.\d{1,2}){3}$`)

var bsSubheaderVersions = map[uint32]bool{
	0x14000004: true,
	0x14000005: true,
	0x14020007: true,
}

// BlockInfo describes one serialized block.
type BlockInfo struct {
	Index      int
	TypeIndex  uint16
	TypeName   string
	Size       uint32
	DataOffset int
}

// ContainerView is the fully parsed header/directory/footer of a NIF file,
// with the body left as offsets into the original buffer.
type ContainerView struct {
	HeaderString string
	BinaryVersion uint32
	IsBigEndian  bool
	UserVersion  uint32
	HasBSHeader  bool
	BSVersion    uint32
	Author       string

	BlockTypeNames []string
	Blocks         []BlockInfo

	Strings []string

	NumGroups uint32
	Groups    []uint32

	Roots []int32

	// HeaderSize is the byte offset of the first block's data (everything
	// before it: header, type directory, size table, string table, groups).
	HeaderSize int
	// FooterSize is the byte length of the trailing num_roots+roots section.
	FooterSize int
}

// Version returns the {version,user_version,bs_version} triple used to
// evaluate version guards.
func (c *ContainerView) Version() (version, userVersion, bsVersion uint32) {
	return c.BinaryVersion, c.UserVersion, c.BSVersion
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) u8() (uint8, error) {
	v, err := ioprim.ReadU8(c.buf, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos++
	return v, nil
}

func (c *cursor) u16LE() (uint16, error) {
	v, err := ioprim.ReadU16LE(c.buf, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 2
	return v, nil
}

func (c *cursor) u32LE() (uint32, error) {
	v, err := ioprim.ReadU32LE(c.buf, c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 4
	return v, nil
}

func (c *cursor) u16(bigEndian bool) (uint16, error) {
	var v uint16
	var err error
	if bigEndian {
		v, err = ioprim.ReadU16BE(c.buf, c.pos)
	} else {
		v, err = ioprim.ReadU16LE(c.buf, c.pos)
	}
	if err != nil {
		return 0, err
	}
	c.pos += 2
	return v, nil
}

func (c *cursor) u32(bigEndian bool) (uint32, error) {
	var v uint32
	var err error
	if bigEndian {
		v, err = ioprim.ReadU32BE(c.buf, c.pos)
	} else {
		v, err = ioprim.ReadU32LE(c.buf, c.pos)
	}
	if err != nil {
		return 0, err
	}
	c.pos += 4
	return v, nil
}

func (c *cursor) i32(bigEndian bool) (int32, error) {
	v, err := c.u32(bigEndian)
	return int32(v), err
}

// shortString reads a u8 length prefix (always interpreted the same
// regardless of endianness, since it's a single byte) followed by that many
// ASCII bytes.
func (c *cursor) shortString() (string, error) {
	n, err := c.u8()
	if err != nil {
		return "", err
	}
	b, err := ioprim.ReadAt(c.buf, c.pos, int(n))
	if err != nil {
		return "", err
	}
	c.pos += int(n)
	return string(b), nil
}

// sizedString reads a u32 length prefix (endian-aware) followed by that many
// ASCII bytes.
func (c *cursor) sizedString(bigEndian bool) (string, error) {
	n, err := c.u32(bigEndian)
	if err != nil {
		return "", err
	}
	b, err := ioprim.ReadAt(c.buf, c.pos, int(n))
	if err != nil {
		return "", err
	}
	c.pos += int(n)
	return string(b), nil
}

// headerString reads the ASCII magic through and including the first 0x0A,
// always left as-is regardless of endian byte (it precedes it in the file).
func (c *cursor) headerString() (string, error) {
	idx := bytes.IndexByte(c.buf[c.pos:], 0x0A)
	if idx < 0 {
		return "", utils.WrapError(utils.KindBadMagic, "header string", fmt.Errorf("no terminating newline found"))
	}
	s := string(c.buf[c.pos : c.pos+idx+1])
	c.pos += idx + 1
	return s, nil
}

// Parse reads a full container view from buf using the package's default
// limits (utils.MaxBlockSize, utils.MaxBlocks). Errors returned here are
// always container-frame errors (fatal: abort the whole conversion).
func Parse(buf []byte) (*ContainerView, error) {
	return ParseWithLimits(buf, utils.MaxBlockSize, utils.MaxBlocks)
}

// ParseWithLimits is Parse with caller-supplied bounds, letting a host
// tighten or loosen the container parser's block-size/block-count ceiling
// per call (ConvertOptions.MaxBlockSize/MaxBlocks) instead of the package
// default.
func ParseWithLimits(buf []byte, maxBlockSize uint64, maxBlocks uint32) (*ContainerView, error) {
	c := &cursor{buf: buf}

	headerStr, err := c.headerString()
	if err != nil {
		return nil, err
	}
	var prefix string
	switch {
	case bytes.HasPrefix([]byte(headerStr), []byte("Gamebryo File Format, Version")):
		prefix = "Gamebryo File Format, Version"
	case bytes.HasPrefix([]byte(headerStr), []byte("NetImmerse File Format, Version")):
		prefix = "NetImmerse File Format, Version"
	default:
		return nil, utils.NewError(utils.KindBadMagic, fmt.Sprintf("unexpected header string %q", headerStr))
	}
	versionText := strings.TrimSpace(strings.TrimPrefix(headerStr, prefix))
	if !versionStringPattern.MatchString(versionText) {
		return nil, utils.NewError(utils.KindBadVersionString, fmt.Sprintf("malformed version string %q", versionText))
	}

	binVersion, err := c.u32LE()
	if err != nil {
		return nil, err
	}
	if binVersion < minBinaryVersion || binVersion > maxBinaryVersion {
		return nil, utils.NewError(utils.KindUnsupportedVersion, fmt.Sprintf("binary_version 0x%08X out of range", binVersion))
	}

	endianByte, err := c.u8()
	if err != nil {
		return nil, err
	}
	if endianByte != 0 && endianByte != 1 {
		return nil, utils.NewError(utils.KindUnsupportedVersion, fmt.Sprintf("endian byte %d not in {0,1}", endianByte))
	}
	isBigEndian := endianByte == 0

	userVersion, err := c.u32LE()
	if err != nil {
		return nil, err
	}

	numBlocks, err := c.u32LE()
	if err != nil {
		return nil, err
	}
	if numBlocks > maxBlocks {
		return nil, utils.NewError(utils.KindUnsupportedVersion, fmt.Sprintf("num_blocks %d exceeds limit", numBlocks))
	}

	view := &ContainerView{
		HeaderString:  headerStr,
		BinaryVersion: binVersion,
		IsBigEndian:   isBigEndian,
		UserVersion:   userVersion,
	}

	if bsSubheaderVersions[binVersion] && userVersion > 0 && userVersion < 100 {
		bsVersion, err := c.u32LE()
		if err != nil {
			return nil, err
		}
		author, err := c.shortString()
		if err != nil {
			return nil, err
		}
		view.HasBSHeader = true
		view.BSVersion = bsVersion
		view.Author = author
	}

	// Alignment heuristic: peek the next u16 as a candidate num_block_types;
	// if it looks implausible, the BS subheader carried one extra padding
	// byte this reader must skip before the real field.
	numBlockTypes, err := peekNumBlockTypes(c, isBigEndian)
	if err != nil {
		return nil, err
	}

	typeNames := make([]string, 0, numBlockTypes)
	for i := uint16(0); i < numBlockTypes; i++ {
		name, err := c.sizedString(isBigEndian)
		if err != nil {
			return nil, err
		}
		typeNames = append(typeNames, name)
	}
	view.BlockTypeNames = typeNames

	typeIndices := make([]uint16, numBlocks)
	for i := range typeIndices {
		ti, err := c.u16(isBigEndian)
		if err != nil {
			return nil, err
		}
		if int(ti) >= len(typeNames) {
			return nil, utils.NewError(utils.KindBlockBoundsExceeded, fmt.Sprintf("block %d type_index %d out of range", i, ti))
		}
		typeIndices[i] = ti
	}

	sizes := make([]uint32, numBlocks)
	for i := range sizes {
		sz, err := c.u32(isBigEndian)
		if err != nil {
			return nil, err
		}
		if uint64(sz) > maxBlockSize {
			return nil, utils.NewError(utils.KindBlockBoundsExceeded, fmt.Sprintf("block %d size %d exceeds max block size", i, sz))
		}
		sizes[i] = sz
	}

	numStrings, err := c.u32(isBigEndian)
	if err != nil {
		return nil, err
	}
	if _, err := c.u32(isBigEndian); err != nil { // max string length, unused here
		return nil, err
	}
	strs := make([]string, 0, numStrings)
	for i := uint32(0); i < numStrings; i++ {
		s, err := c.sizedString(isBigEndian)
		if err != nil {
			return nil, err
		}
		strs = append(strs, s)
	}
	view.Strings = strs

	numGroups, err := c.u32(isBigEndian)
	if err != nil {
		return nil, err
	}
	groups := make([]uint32, 0, numGroups)
	for i := uint32(0); i < numGroups; i++ {
		g, err := c.u32(isBigEndian)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	view.NumGroups = numGroups
	view.Groups = groups

	view.HeaderSize = c.pos

	blocks := make([]BlockInfo, numBlocks)
	offset := c.pos
	for i := range blocks {
		blocks[i] = BlockInfo{
			Index:      i,
			TypeIndex:  typeIndices[i],
			TypeName:   typeNames[typeIndices[i]],
			Size:       sizes[i],
			DataOffset: offset,
		}
		next, err := utils.SafeAdd(uint64(offset), uint64(sizes[i]))
		if err != nil {
			return nil, utils.WrapError(utils.KindInternalInvariantViolation, "block offset accumulation", err)
		}
		offset = int(next)
	}
	view.Blocks = blocks

	if offset > len(buf) {
		return nil, utils.NewError(utils.KindBlockBoundsExceeded, fmt.Sprintf("block data extends to %d, buffer is %d bytes", offset, len(buf)))
	}
	c.pos = offset

	footerStart := c.pos
	numRoots, err := c.u32(isBigEndian)
	if err != nil {
		return nil, err
	}
	roots := make([]int32, numRoots)
	for i := range roots {
		r, err := c.i32(isBigEndian)
		if err != nil {
			return nil, err
		}
		roots[i] = r
	}
	view.Roots = roots
	view.FooterSize = c.pos - footerStart

	return view, nil
}

// peekNumBlockTypes reads the block-type count, trying position c.pos first
// and, if the resulting value is implausible, retrying one byte further in
// (a single stray alignment byte sometimes follows the BS subheader).
func peekNumBlockTypes(c *cursor, bigEndian bool) (uint16, error) {
	save := c.pos
	n, err := c.u16(bigEndian)
	if err == nil && n >= 1 && n <= 500 {
		return n, nil
	}
	c.pos = save + 1
	n2, err2 := c.u16(bigEndian)
	if err2 == nil && n2 >= 1 && n2 <= 500 {
		return n2, nil
	}
	c.pos = save
	if err != nil {
		return 0, err
	}
	return n, nil
}
