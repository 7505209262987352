// Package macho models a Mach-O image that lives inside a caller-owned byte
// buffer (a standalone file or a dyld_shared_cache) so that relocation code can
// patch it in place.
package macho

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

// FormatError is returned by some operations if the data does
// not have the correct format for an object file.
type FormatError struct {
	off int64
	msg string
	val any
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// Image is a parsed view of a Mach-O header and its load commands.
//
// The image never copies buf; every slice it hands out aliases the caller's
// buffer, so writes through those slices modify the file image directly.
type Image struct {
	types.FileHeader
	ByteOrder binary.ByteOrder
	Name      string

	buf       []byte
	hdrOffset uint64

	loads     []*LoadCommand
	segments  []*Segment
	symtab    *Symtab
	dysymtab  *Dysymtab
	dyldInfo  *DyldInfo
	reexports []string

	symOnce  sync.Once
	symIndex map[string]uint64
	symErr   error
}

// Open reads a standalone Mach-O file into memory and parses it.
func Open(name string) (*Image, error) {
	dat, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", name)
	}
	return NewImage(dat, 0, name)
}

// Bytes returns the buffer the image was parsed from.
func (i *Image) Bytes() []byte { return i.buf }

// HeaderOffset returns the file offset of the mach header inside Bytes().
func (i *Image) HeaderOffset() uint64 { return i.hdrOffset }

// Is64 reports whether the image uses the 64-bit header and nlist layouts.
func (i *Image) Is64() bool { return i.Magic == types.Magic64 }

// PointerSize returns 8 for 64-bit images and 4 otherwise.
func (i *Image) PointerSize() uint64 {
	if i.Is64() {
		return 8
	}
	return 4
}

// Loads returns the image's load commands in file order.
func (i *Image) Loads() []*LoadCommand { return i.loads }

// Segments returns the LC_SEGMENT/LC_SEGMENT_64 commands in file order.
// Segment indices used by compressed dyld info refer to this slice.
func (i *Image) Segments() []*Segment { return i.segments }

// Segment returns the first segment called name.
func (i *Image) Segment(name string) *Segment {
	for _, seg := range i.segments {
		if seg.Name == name {
			return seg
		}
	}
	return nil
}

// Symtab returns the LC_SYMTAB command or nil.
func (i *Image) Symtab() *Symtab { return i.symtab }

// Dysymtab returns the LC_DYSYMTAB command or nil.
func (i *Image) Dysymtab() *Dysymtab { return i.dysymtab }

// DyldInfo returns the LC_DYLD_INFO(_ONLY) command or nil.
func (i *Image) DyldInfo() *DyldInfo { return i.dyldInfo }

// Reexports returns the install names of every LC_REEXPORT_DYLIB.
func (i *Image) Reexports() []string { return i.reexports }

// RelocBase returns the address r_address fields of relocation entries are
// relative to: the first segment, or the first writable segment for x86_64
// images and images built with MH_SPLIT_SEGS.
func (i *Image) RelocBase() (uint64, error) {
	if len(i.segments) == 0 {
		return 0, &FormatError{int64(i.hdrOffset), "image has no segments", nil}
	}
	if i.CPU == types.CPUAmd64 || i.Flags.SplitSegs() {
		for _, seg := range i.segments {
			if seg.Writable() {
				return seg.Addr, nil
			}
		}
		return 0, &FormatError{int64(i.hdrOffset), "image has no writable segment", nil}
	}
	return i.segments[0].Addr, nil
}
