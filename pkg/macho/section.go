package macho

import (
	"fmt"

	"github.com/blacktop/go-macho/types"
)

// Segment is an LC_SEGMENT or LC_SEGMENT_64 command and its sections.
type Segment struct {
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	Maxprot  uint32
	Prot     uint32
	Sections []*Section

	image     *Image
	cmdOffset uint64
	is64      bool
}

const vmProtWrite = 0x2

// Writable reports whether the segment's initial protection allows writes.
func (s *Segment) Writable() bool { return s.Prot&vmProtWrite != 0 }

// Mapped returns the number of bytes of the segment that are backed by the file.
func (s *Segment) Mapped() uint64 { return min(s.Memsz, s.Filesz) }

// Data returns the file-backed bytes of the segment. It may be empty.
func (s *Segment) Data() ([]byte, error) {
	if s.Filesz == 0 {
		return nil, nil
	}
	return s.image.Translate(s.Offset, s.Filesz, ByFileOffset)
}

// SetAddr rewrites the segment's vmaddr in the load command and in the model.
func (s *Segment) SetAddr(addr uint64) error {
	bo := s.image.ByteOrder
	if s.is64 {
		field, err := s.image.Translate(s.cmdOffset+24, 8, ByFileOffset)
		if err != nil {
			return err
		}
		bo.PutUint64(field, addr)
	} else {
		if addr > 0xffffffff {
			return fmt.Errorf("segment %s: address %#x does not fit a 32-bit segment", s.Name, addr)
		}
		field, err := s.image.Translate(s.cmdOffset+24, 4, ByFileOffset)
		if err != nil {
			return err
		}
		bo.PutUint32(field, uint32(addr))
	}
	s.Addr = addr
	return nil
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s addr=%#x vmsize=%#x fileoff=%#x filesize=%#x", s.Name, s.Addr, s.Memsz, s.Offset, s.Filesz)
}

// Section is a section header inside a segment command.
type Section struct {
	Name      string
	Seg       string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     types.SectionFlag
	Reserved1 uint32 // index into the indirect symbol table
	Reserved2 uint32 // stub size for S_SYMBOL_STUBS

	image     *Image
	hdrOffset uint64
	is64      bool
}

// Type returns the section type bits of Flags.
func (s *Section) Type() types.SectionFlag { return s.Flags & types.SectionType }

// SetAddr rewrites the section's addr field in the segment command and in the model.
func (s *Section) SetAddr(addr uint64) error {
	img := s.image
	if s.is64 {
		field, err := img.Translate(s.hdrOffset+32, 8, ByFileOffset)
		if err != nil {
			return err
		}
		img.ByteOrder.PutUint64(field, addr)
	} else {
		if addr > 0xffffffff {
			return fmt.Errorf("section %s.%s: address %#x does not fit a 32-bit section", s.Seg, s.Name, addr)
		}
		field, err := img.Translate(s.hdrOffset+32, 4, ByFileOffset)
		if err != nil {
			return err
		}
		img.ByteOrder.PutUint32(field, uint32(addr))
	}
	s.Addr = addr
	return nil
}

// HasIndirectSymbols reports whether the section's entries are described by
// the indirect symbol table.
func (s *Section) HasIndirectSymbols() bool {
	t := s.Type()
	return t.IsNonLazySymbolPointers() || t.IsLazySymbolPointers() || t.IsSymbolStubs()
}
