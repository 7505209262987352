// Package machotest builds small in-memory Mach-O images and dyld shared
// caches for tests.
package machotest

import (
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/relink/pkg/macho"
)

var bo = binary.LittleEndian

// Reloc is a relocation_info entry.
type Reloc = macho.RelocationInfo

type Section struct {
	Name      string
	Addr      uint64
	Size      uint64
	Type      types.SectionFlag
	Reserved1 uint32
	Reserved2 uint32
	Relocs    []Reloc
}

type Segment struct {
	Name     string
	Addr     uint64
	VMSize   uint64 // defaults to len(Data)
	Data     []byte
	Prot     uint32
	Sections []Section
}

type Symbol struct {
	Name  string
	Type  types.NType
	Sect  uint8
	Desc  types.NDescType
	Value uint64
}

// DyldInfo holds raw compressed opcode streams.
type DyldInfo struct {
	Rebase   []byte
	Bind     []byte
	WeakBind []byte
	LazyBind []byte
}

// File describes a little-endian Mach-O image.
type File struct {
	Is64         bool
	CPU          types.CPU
	Flags        types.HeaderFlag
	Segments     []Segment
	Symbols      []Symbol
	LocalRelocs  []Reloc
	ExternRelocs []Reloc
	Indirect     []uint32
	DyldInfo     *DyldInfo
	Reexports    []string
	NoSymtab     bool
	NoDysymtab   bool
}

// Layout records where Build placed each piece, as offsets into the final buffer.
type Layout struct {
	SegmentOffsets []uint64
	SectionRelocs  [][]uint64
	LocRelOff      uint64
	ExtRelOff      uint64
	IndirectOff    uint64
	SymOff         uint64
	StrOff         uint64
	RebaseOff      uint64
	BindOff        uint64
	WeakBindOff    uint64
	LazyBindOff    uint64
	Size           uint64
}

func align(v, a uint64) uint64 { return (v + a - 1) &^ (a - 1) }

// Build lays the image out from offset 0.
func (f *File) Build() ([]byte, Layout) {
	return f.BuildAt(0)
}

// BuildAt lays the image out as if its header lived at base inside a larger
// buffer. The returned bytes belong at buf[base:]; every offset in the load
// commands and in Layout already includes base.
func (f *File) BuildAt(base uint64) ([]byte, Layout) {
	var l Layout

	hdrSize, segSize, sectSize, nlSize := uint64(28), uint64(56), uint64(68), uint64(12)
	segCmd := types.LC_SEGMENT
	magic := types.Magic32
	if f.Is64 {
		hdrSize, segSize, sectSize, nlSize = 32, 72, 80, 16
		segCmd = types.LC_SEGMENT_64
		magic = types.Magic64
	}

	var cmdsSize uint64
	for _, seg := range f.Segments {
		cmdsSize += segSize + uint64(len(seg.Sections))*sectSize
	}
	if !f.NoSymtab {
		cmdsSize += 24
	}
	if !f.NoDysymtab {
		cmdsSize += 80
	}
	if f.DyldInfo != nil {
		cmdsSize += 48
	}
	for _, re := range f.Reexports {
		cmdsSize += reexportSize(re)
	}

	// file layout
	off := align(base+hdrSize+cmdsSize, 16)
	for _, seg := range f.Segments {
		if len(seg.Data) == 0 {
			l.SegmentOffsets = append(l.SegmentOffsets, 0)
			continue
		}
		l.SegmentOffsets = append(l.SegmentOffsets, off)
		off = align(off+uint64(len(seg.Data)), 16)
	}
	l.LocRelOff = off
	off += uint64(len(f.LocalRelocs)) * macho.RelocationSize
	l.ExtRelOff = off
	off += uint64(len(f.ExternRelocs)) * macho.RelocationSize
	for _, seg := range f.Segments {
		var offs []uint64
		for _, sect := range seg.Sections {
			offs = append(offs, off)
			off += uint64(len(sect.Relocs)) * macho.RelocationSize
		}
		l.SectionRelocs = append(l.SectionRelocs, offs)
	}
	l.IndirectOff = off
	off += uint64(len(f.Indirect)) * 4
	off = align(off, 8)
	l.SymOff = off
	off += uint64(len(f.Symbols)) * nlSize
	l.StrOff = off
	strtab := []byte{0}
	nameIdx := make([]uint32, len(f.Symbols))
	for i, sym := range f.Symbols {
		nameIdx[i] = uint32(len(strtab))
		strtab = append(strtab, sym.Name...)
		strtab = append(strtab, 0)
	}
	off += uint64(len(strtab))
	if f.DyldInfo != nil {
		l.RebaseOff = off
		off += uint64(len(f.DyldInfo.Rebase))
		l.BindOff = off
		off += uint64(len(f.DyldInfo.Bind))
		l.WeakBindOff = off
		off += uint64(len(f.DyldInfo.WeakBind))
		l.LazyBindOff = off
		off += uint64(len(f.DyldInfo.LazyBind))
	}
	l.Size = off

	out := make([]byte, off)
	at := func(o uint64) []byte { return out[o:] }

	// header
	h := at(base)
	bo.PutUint32(h[0:], uint32(magic))
	bo.PutUint32(h[4:], uint32(f.CPU))
	bo.PutUint32(h[12:], uint32(types.MH_DYLIB))
	ncmds := uint32(len(f.Segments) + len(f.Reexports))
	if !f.NoSymtab {
		ncmds++
	}
	if !f.NoDysymtab {
		ncmds++
	}
	if f.DyldInfo != nil {
		ncmds++
	}
	bo.PutUint32(h[16:], ncmds)
	bo.PutUint32(h[20:], uint32(cmdsSize))
	bo.PutUint32(h[24:], uint32(f.Flags))

	c := base + hdrSize
	for i, seg := range f.Segments {
		b := at(c)
		size := segSize + uint64(len(seg.Sections))*sectSize
		vmsize := seg.VMSize
		if vmsize == 0 {
			vmsize = uint64(len(seg.Data))
		}
		bo.PutUint32(b[0:], uint32(segCmd))
		bo.PutUint32(b[4:], uint32(size))
		copy(b[8:24], seg.Name)
		if f.Is64 {
			bo.PutUint64(b[24:], seg.Addr)
			bo.PutUint64(b[32:], vmsize)
			bo.PutUint64(b[40:], l.SegmentOffsets[i])
			bo.PutUint64(b[48:], uint64(len(seg.Data)))
			bo.PutUint32(b[56:], seg.Prot)
			bo.PutUint32(b[60:], seg.Prot)
			bo.PutUint32(b[64:], uint32(len(seg.Sections)))
		} else {
			bo.PutUint32(b[24:], uint32(seg.Addr))
			bo.PutUint32(b[28:], uint32(vmsize))
			bo.PutUint32(b[32:], uint32(l.SegmentOffsets[i]))
			bo.PutUint32(b[36:], uint32(len(seg.Data)))
			bo.PutUint32(b[40:], seg.Prot)
			bo.PutUint32(b[44:], seg.Prot)
			bo.PutUint32(b[48:], uint32(len(seg.Sections)))
		}
		copy(at(l.SegmentOffsets[i]), seg.Data)

		for j, sect := range seg.Sections {
			s := b[segSize+uint64(j)*sectSize:]
			copy(s[0:16], sect.Name)
			copy(s[16:32], seg.Name)
			var fileoff uint64
			if sect.Addr >= seg.Addr && sect.Addr-seg.Addr < uint64(len(seg.Data)) {
				fileoff = l.SegmentOffsets[i] + sect.Addr - seg.Addr
			}
			reloff := uint32(0)
			if len(sect.Relocs) > 0 {
				reloff = uint32(l.SectionRelocs[i][j])
			}
			if f.Is64 {
				bo.PutUint64(s[32:], sect.Addr)
				bo.PutUint64(s[40:], sect.Size)
				bo.PutUint32(s[48:], uint32(fileoff))
				bo.PutUint32(s[56:], reloff)
				bo.PutUint32(s[60:], uint32(len(sect.Relocs)))
				bo.PutUint32(s[64:], uint32(sect.Type))
				bo.PutUint32(s[68:], sect.Reserved1)
				bo.PutUint32(s[72:], sect.Reserved2)
			} else {
				bo.PutUint32(s[32:], uint32(sect.Addr))
				bo.PutUint32(s[36:], uint32(sect.Size))
				bo.PutUint32(s[40:], uint32(fileoff))
				bo.PutUint32(s[48:], reloff)
				bo.PutUint32(s[52:], uint32(len(sect.Relocs)))
				bo.PutUint32(s[56:], uint32(sect.Type))
				bo.PutUint32(s[60:], sect.Reserved1)
				bo.PutUint32(s[64:], sect.Reserved2)
			}
			putRelocs(at(uint64(reloff)), sect.Relocs)
		}
		c += size
	}

	if !f.NoSymtab {
		b := at(c)
		bo.PutUint32(b[0:], uint32(types.LC_SYMTAB))
		bo.PutUint32(b[4:], 24)
		bo.PutUint32(b[8:], uint32(l.SymOff))
		bo.PutUint32(b[12:], uint32(len(f.Symbols)))
		bo.PutUint32(b[16:], uint32(l.StrOff))
		bo.PutUint32(b[20:], uint32(len(strtab)))
		c += 24
	}
	if !f.NoDysymtab {
		b := at(c)
		bo.PutUint32(b[0:], uint32(types.LC_DYSYMTAB))
		bo.PutUint32(b[4:], 80)
		bo.PutUint32(b[56:], uint32(l.IndirectOff))
		bo.PutUint32(b[60:], uint32(len(f.Indirect)))
		bo.PutUint32(b[64:], uint32(l.ExtRelOff))
		bo.PutUint32(b[68:], uint32(len(f.ExternRelocs)))
		bo.PutUint32(b[72:], uint32(l.LocRelOff))
		bo.PutUint32(b[76:], uint32(len(f.LocalRelocs)))
		c += 80
	}
	if di := f.DyldInfo; di != nil {
		b := at(c)
		bo.PutUint32(b[0:], uint32(types.LC_DYLD_INFO_ONLY))
		bo.PutUint32(b[4:], 48)
		putStream := func(field []byte, off uint64, stream []byte) {
			if len(stream) == 0 {
				return
			}
			bo.PutUint32(field[0:], uint32(off))
			bo.PutUint32(field[4:], uint32(len(stream)))
			copy(at(off), stream)
		}
		putStream(b[8:], l.RebaseOff, di.Rebase)
		putStream(b[16:], l.BindOff, di.Bind)
		putStream(b[24:], l.WeakBindOff, di.WeakBind)
		putStream(b[32:], l.LazyBindOff, di.LazyBind)
		c += 48
	}
	for _, re := range f.Reexports {
		b := at(c)
		size := reexportSize(re)
		bo.PutUint32(b[0:], uint32(types.LC_REEXPORT_DYLIB))
		bo.PutUint32(b[4:], uint32(size))
		bo.PutUint32(b[8:], 24)
		copy(b[24:], re)
		c += size
	}

	putRelocs(at(l.LocRelOff), f.LocalRelocs)
	putRelocs(at(l.ExtRelOff), f.ExternRelocs)
	for i, ind := range f.Indirect {
		bo.PutUint32(at(l.IndirectOff+uint64(i)*4), ind)
	}
	for i, sym := range f.Symbols {
		macho.PutNlist(at(l.SymOff+uint64(i)*nlSize), bo, macho.Nlist{
			Name:  nameIdx[i],
			Type:  sym.Type,
			Sect:  sym.Sect,
			Desc:  sym.Desc,
			Value: sym.Value,
		}, f.Is64)
	}
	copy(at(l.StrOff), strtab)

	return out[base:], l
}

func reexportSize(name string) uint64 {
	return align(24+uint64(len(name))+1, 8)
}

func putRelocs(b []byte, relocs []Reloc) {
	for i, r := range relocs {
		r.Encode(b[i*macho.RelocationSize:], bo)
	}
}

// Word reads the little-endian 32-bit word at off.
func Word(b []byte, off uint64) uint32 { return bo.Uint32(b[off:]) }

// PutWord writes a little-endian 32-bit word at off.
func PutWord(b []byte, off uint64, v uint32) { bo.PutUint32(b[off:], v) }

// Quad reads the little-endian 64-bit word at off.
func Quad(b []byte, off uint64) uint64 { return bo.Uint64(b[off:]) }

// AppendUleb appends v in ULEB128 form.
func AppendUleb(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if v == 0 {
			return b
		}
	}
}

// AppendSleb appends v in SLEB128 form.
func AppendSleb(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
