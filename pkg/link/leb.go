package link

import "bytes"

// opcodeReader walks a compressed dyld info stream in place. The stream is
// a window onto the image, so consumed bytes can be overwritten.
type opcodeReader struct {
	buf []byte
	pos int
}

func (r *opcodeReader) done() bool { return r.pos >= len(r.buf) }

func (r *opcodeReader) readByte() (byte, error) {
	if r.done() {
		return 0, malformed("opcode stream ends at %#x", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *opcodeReader) readUleb128() (uint64, error) {
	var result uint64
	var shift uint
	start := r.pos
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, malformed("truncated uleb128 at %#x", start)
		}
		payload := uint64(b & 0x7f)
		switch {
		case shift < 63, shift == 63 && payload <= 1:
			result |= payload << shift
		case payload != 0:
			return 0, malformed("uleb128 at %#x overflows 64 bits", start)
		}
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

func (r *opcodeReader) readSleb128() (int64, error) {
	var result int64
	var shift uint
	start := r.pos
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, malformed("truncated sleb128 at %#x", start)
		}
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}

func (r *opcodeReader) readCString() (string, error) {
	i := bytes.IndexByte(r.buf[r.pos:], 0)
	if i < 0 {
		return "", malformed("unterminated symbol name at %#x", r.pos)
	}
	s := string(r.buf[r.pos : r.pos+i])
	r.pos += i + 1
	return s, nil
}

// fill overwrites stream bytes [start, r.pos) with b.
func (r *opcodeReader) fill(start int, b byte) {
	for i := start; i < r.pos; i++ {
		r.buf[i] = b
	}
}
