package macho

import (
	"github.com/pkg/errors"
)

// ErrOutOfRange is returned when a requested range is not fully backed by the image.
var ErrOutOfRange = errors.New("range not mapped by image")

// TranslateOption controls how Translate interprets its address.
type TranslateOption uint8

const (
	// ByFileOffset treats the address as an offset into the image buffer
	// instead of a virtual address.
	ByFileOffset TranslateOption = 1 << iota
	// AllowEmpty lets a zero-sized query succeed, which is how callers ask
	// "does this address land inside the image" without touching any bytes.
	AllowEmpty
)

// Translate returns a writable window of size bytes starting at addr.
//
// A virtual address must fall inside the file-backed part of a single segment
// and the whole range must stay inside that segment. A file offset must stay
// inside the image buffer. The returned slice has its capacity clipped to its
// length so appends can never spill into neighbouring data.
func (i *Image) Translate(addr, size uint64, opt TranslateOption) ([]byte, error) {
	if size == 0 && opt&AllowEmpty == 0 {
		return nil, errors.Wrapf(ErrOutOfRange, "empty range at %#x", addr)
	}

	var off uint64
	if opt&ByFileOffset != 0 {
		if addr > uint64(len(i.buf)) || size > uint64(len(i.buf))-addr {
			return nil, errors.Wrapf(ErrOutOfRange, "file range %#x+%#x exceeds buffer of %#x bytes", addr, size, len(i.buf))
		}
		if size == 0 && addr == uint64(len(i.buf)) {
			return nil, errors.Wrapf(ErrOutOfRange, "file offset %#x is past the end of the buffer", addr)
		}
		off = addr
	} else {
		seg := i.segmentFor(addr)
		if seg == nil {
			return nil, errors.Wrapf(ErrOutOfRange, "address %#x not in any segment", addr)
		}
		delta := addr - seg.Addr
		if size > seg.Mapped()-delta {
			return nil, errors.Wrapf(ErrOutOfRange, "range %#x+%#x runs past segment %s", addr, size, seg.Name)
		}
		off = seg.Offset + delta
		if off > uint64(len(i.buf)) || size > uint64(len(i.buf))-off {
			return nil, errors.Wrapf(ErrOutOfRange, "segment %s maps %#x past the end of the buffer", seg.Name, addr)
		}
	}

	return i.buf[off : off+size : off+size], nil
}

// segmentFor returns the segment whose file-backed extent contains addr.
func (i *Image) segmentFor(addr uint64) *Segment {
	for _, seg := range i.segments {
		if addr >= seg.Addr && addr-seg.Addr < seg.Mapped() {
			return seg
		}
	}
	return nil
}

// Contains reports whether addr lands inside the file-backed part of a segment.
func (i *Image) Contains(addr uint64) bool {
	_, err := i.Translate(addr, 0, AllowEmpty)
	return err == nil
}
