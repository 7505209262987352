package link

import (
	"github.com/apex/log"
	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

// repeatForm is how a do-rebase/do-bind opcode derives count and stride.
type repeatForm uint8

const (
	// fixedRepeat takes count and stride from the opcode's immediate.
	fixedRepeat repeatForm = iota
	// ulebCount reads the count; the stride is one pointer.
	ulebCount
	// ulebStride writes once, then skips a ULEB amount past the pointer.
	ulebStride
	// ulebCountStride reads the count, then the skip between pointers.
	ulebCountStride
)

// readRepeat returns the count and stride for form. immCount and immStride
// are only used by fixedRepeat.
func (r *opcodeReader) readRepeat(form repeatForm, immCount, immStride, ptrSize uint64) (count, stride uint64, err error) {
	switch form {
	case fixedRepeat:
		return immCount, immStride, nil
	case ulebCount:
		count, err = r.readUleb128()
		return count, ptrSize, err
	case ulebStride:
		skip, err := r.readUleb128()
		return 1, skip + ptrSize, err
	case ulebCountStride:
		if count, err = r.readUleb128(); err != nil {
			return 0, 0, err
		}
		skip, err := r.readUleb128()
		return count, skip + ptrSize, err
	}
	return 0, 0, malformed("unknown repeat form %d", form)
}

// fixupCursor is the segment window and offset shared by rebase and bind.
type fixupCursor struct {
	img     *macho.Image
	data    []byte
	segAddr uint64
	offset  uint64
	valid   bool
}

func (c *fixupCursor) selectSegment(idx uint64, offset uint64) error {
	segs := c.img.Segments()
	if idx >= uint64(len(segs)) {
		return malformed("segment index %d too high (%d segments)", idx, len(segs))
	}
	data, err := segs[idx].Data()
	if err != nil {
		return errors.Wrapf(ErrMalformed, "segment %d: %v", idx, err)
	}
	c.data = data
	c.segAddr = segs[idx].Addr
	c.offset = offset
	c.valid = true
	return nil
}

// patchFunc rewrites one element in place.
type patchFunc func(word []byte)

// apply runs patch on count elements of width bytes, stride bytes apart,
// starting at the cursor. The whole run is bounds checked before the first
// write. The cursor ends up count*stride further on.
func (c *fixupCursor) apply(count, stride, width uint64, patch patchFunc) error {
	if count == 0 {
		return nil
	}
	size := uint64(len(c.data))
	if c.offset >= size || width > size-c.offset {
		return errors.Wrapf(ErrRange, "offset %#x+%d outside segment of %#x bytes", c.offset, width, size)
	}
	if count > 1 {
		if stride < width {
			return errors.Wrapf(ErrRange, "stride %#x shorter than element size %d", stride, width)
		}
		if count-1 > (size-c.offset-width)/stride {
			return errors.Wrapf(ErrRange, "%d elements at %#x stride %#x overrun segment of %#x bytes", count, c.offset, stride, size)
		}
	}
	for i := uint64(0); i < count; i++ {
		at := c.offset + i*stride
		patch(c.data[at : at+width : at+width])
	}
	c.offset += count * stride
	return nil
}

// skip moves the cursor as apply would without touching any bytes.
func (c *fixupCursor) skip(count, stride uint64) {
	c.offset += count * stride
}

type opcodeInterpreter struct {
	load  *macho.Image
	res   *resolver
	slide uint64
}

func (e *opcodeInterpreter) addSlide(width uint64) patchFunc {
	bo := e.load.ByteOrder
	if width == 8 {
		return func(w []byte) { bo.PutUint64(w, bo.Uint64(w)+e.slide) }
	}
	return func(w []byte) { bo.PutUint32(w, bo.Uint32(w)+uint32(e.slide)) }
}

// rebase applies a rebase opcode stream.
func (e *opcodeInterpreter) rebase(stream []byte) error {
	r := &opcodeReader{buf: stream}
	cur := &fixupCursor{img: e.load}
	ps := e.load.PointerSize()
	typ := uint8(types.REBASE_TYPE_POINTER)
	bo := e.load.ByteOrder

	for !r.done() {
		start := r.pos
		b, _ := r.readByte()
		imm := uint64(b & types.REBASE_IMMEDIATE_MASK)

		var form repeatForm
		switch b & types.REBASE_OPCODE_MASK {
		case types.REBASE_OPCODE_DONE:
			for _, pad := range r.buf[r.pos:] {
				if pad != types.REBASE_OPCODE_DONE {
					return malformed("REBASE_OPCODE_DONE at %#x is not at the end of the stream", start)
				}
			}
			return nil
		case types.REBASE_OPCODE_SET_TYPE_IMM:
			typ = uint8(imm)
			continue
		case types.REBASE_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB:
			off, err := r.readUleb128()
			if err != nil {
				return err
			}
			if err := cur.selectSegment(imm, off); err != nil {
				return err
			}
			continue
		case types.REBASE_OPCODE_ADD_ADDR_ULEB:
			off, err := r.readUleb128()
			if err != nil {
				return err
			}
			cur.offset += off
			continue
		case types.REBASE_OPCODE_ADD_ADDR_IMM_SCALED:
			cur.offset += imm * ps
			continue
		case types.REBASE_OPCODE_DO_REBASE_IMM_TIMES:
			form = fixedRepeat
		case types.REBASE_OPCODE_DO_REBASE_ULEB_TIMES:
			form = ulebCount
		case types.REBASE_OPCODE_DO_REBASE_ADD_ADDR_ULEB:
			form = ulebStride
		case types.REBASE_OPCODE_DO_REBASE_ULEB_TIMES_SKIPPING_ULEB:
			form = ulebCountStride
		default:
			return malformed("unknown rebase opcode %#x at %#x", b, start)
		}

		count, stride, err := r.readRepeat(form, imm, ps, ps)
		if err != nil {
			return err
		}
		if !cur.valid {
			return malformed("rebase at %#x before a segment was selected", start)
		}

		var width uint64
		var patch patchFunc
		switch typ {
		case types.REBASE_TYPE_POINTER:
			width, patch = ps, e.addSlide(ps)
		case types.REBASE_TYPE_TEXT_ABSOLUTE32:
			width, patch = 4, e.addSlide(4)
		case types.REBASE_TYPE_TEXT_PCREL32:
			// dyld negates these after sliding
			width = 4
			patch = func(w []byte) {
				v := bo.Uint32(w) + uint32(e.slide)
				bo.PutUint32(w, -v)
			}
		default:
			return malformed("bad rebase type %d", typ)
		}
		if err := cur.apply(count, stride, width, patch); err != nil {
			return errors.Wrapf(err, "rebase opcode at %#x", start)
		}
	}
	return nil
}

// bind applies one bind opcode stream. weak marks every symbol in the stream
// as weakly imported; soft tolerates any missing symbol.
func (e *opcodeInterpreter) bind(stream []byte, weak, soft bool) error {
	r := &opcodeReader{buf: stream}
	cur := &fixupCursor{img: e.load}
	ps := e.load.PointerSize()
	bo := e.load.ByteOrder

	typ := uint8(types.BIND_TYPE_POINTER)
	var (
		sym     string
		symSet  bool
		flags   uint64
		addend  int64
		applied int
	)

	for !r.done() {
		start := r.pos
		b, _ := r.readByte()
		imm := uint64(b & types.BIND_IMMEDIATE_MASK)

		var form repeatForm
		var immStride uint64
		switch b & types.BIND_OPCODE_MASK {
		case types.BIND_OPCODE_DONE,
			types.BIND_OPCODE_SET_DYLIB_ORDINAL_IMM,
			types.BIND_OPCODE_SET_DYLIB_SPECIAL_IMM:
			continue
		case types.BIND_OPCODE_SET_DYLIB_ORDINAL_ULEB:
			if _, err := r.readUleb128(); err != nil {
				return err
			}
			continue
		case types.BIND_OPCODE_SET_SYMBOL_TRAILING_FLAGS_IMM:
			name, err := r.readCString()
			if err != nil {
				return err
			}
			sym, symSet, flags = name, true, imm
			continue
		case types.BIND_OPCODE_SET_TYPE_IMM:
			typ = uint8(imm)
			continue
		case types.BIND_OPCODE_SET_ADDEND_SLEB:
			v, err := r.readSleb128()
			if err != nil {
				return err
			}
			addend = v
			continue
		case types.BIND_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB:
			off, err := r.readUleb128()
			if err != nil {
				return err
			}
			if err := cur.selectSegment(imm, off); err != nil {
				return err
			}
			continue
		case types.BIND_OPCODE_ADD_ADDR_ULEB:
			off, err := r.readUleb128()
			if err != nil {
				return err
			}
			cur.offset += off
			continue
		case types.BIND_OPCODE_DO_BIND:
			form, imm, immStride = fixedRepeat, 1, ps
		case types.BIND_OPCODE_DO_BIND_ADD_ADDR_ULEB:
			form = ulebStride
		case types.BIND_OPCODE_DO_BIND_ADD_ADDR_IMM_SCALED:
			form, immStride, imm = fixedRepeat, imm*ps+ps, 1
		case types.BIND_OPCODE_DO_BIND_ULEB_TIMES_SKIPPING_ULEB:
			form = ulebCountStride
		default:
			return malformed("unknown bind opcode %#x at %#x", b, start)
		}

		count, stride, err := r.readRepeat(form, imm, immStride, ps)
		if err != nil {
			return err
		}
		if !symSet || !cur.valid {
			return malformed("improper bind at %#x: no symbol or segment selected", start)
		}

		addr, err := e.res.byName(sym, weak || flags&types.BIND_SYMBOL_FLAGS_WEAK_IMPORT != 0, soft)
		if err != nil {
			return err
		}
		if addr == 0 {
			cur.skip(count, stride)
			continue
		}
		value := addr + uint64(addend)

		var width uint64
		var patch patchFunc
		switch typ {
		case types.BIND_TYPE_POINTER:
			width = ps
			if ps == 8 {
				patch = func(w []byte) { bo.PutUint64(w, value) }
			} else {
				patch = func(w []byte) { bo.PutUint32(w, uint32(value)) }
			}
		case types.BIND_TYPE_TEXT_ABSOLUTE32:
			width = 4
			patch = func(w []byte) { bo.PutUint32(w, uint32(value)) }
		case types.BIND_TYPE_TEXT_PCREL32:
			width = 4
			pc := uint32(-value + cur.segAddr + cur.offset + 4)
			patch = func(w []byte) {
				bo.PutUint32(w, pc)
				pc += uint32(stride)
			}
		default:
			return malformed("bad bind type %d", typ)
		}
		if err := cur.apply(count, stride, width, patch); err != nil {
			return errors.Wrapf(err, "bind of %s at %#x", sym, start)
		}

		r.fill(start, types.BIND_OPCODE_SET_TYPE_IMM)
		typ = types.BIND_TYPE_POINTER
		applied++
	}

	log.Debugf("applied %d binds", applied)
	return nil
}
