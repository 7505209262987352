package macho

import (
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
)

// RelocationSize is the on-disk size of a relocation_info entry.
const RelocationSize = 8

const (
	// RelocAbsolute is the r_symbolnum of an entry that needs no further work.
	RelocAbsolute = 0
	// RelocScattered is the high bit of r_address on a scattered entry.
	RelocScattered = 0x80000000
)

// A RelocationInfo is a decoded non-scattered relocation_info entry.
type RelocationInfo struct {
	Address   uint32
	SymbolNum uint32 // symbol index when Extern, section ordinal otherwise
	PCRel     bool
	Length    uint8 // 0=byte, 1=word, 2=long, 3=quad
	Extern    bool
	Type      types.RelocTypeARM
	Scattered bool
}

// DecodeRelocation unpacks an 8-byte relocation_info entry.
func DecodeRelocation(b []byte, bo binary.ByteOrder) RelocationInfo {
	var r RelocationInfo
	addr := bo.Uint32(b[0:])
	if addr&RelocScattered != 0 {
		return RelocationInfo{Address: addr &^ RelocScattered, Scattered: true}
	}
	r.Address = addr
	word := bo.Uint32(b[4:])
	if bo == binary.BigEndian {
		r.SymbolNum = word >> 8
		r.PCRel = word&(1<<7) != 0
		r.Length = uint8((word >> 5) & 3)
		r.Extern = word&(1<<4) != 0
		r.Type = types.RelocTypeARM(word & 0xf)
	} else {
		r.SymbolNum = word & (1<<24 - 1)
		r.PCRel = word&(1<<24) != 0
		r.Length = uint8((word >> 25) & 3)
		r.Extern = word&(1<<27) != 0
		r.Type = types.RelocTypeARM(word >> 28)
	}
	return r
}

// Encode packs r back into an 8-byte relocation_info entry.
func (r RelocationInfo) Encode(b []byte, bo binary.ByteOrder) {
	bo.PutUint32(b[0:], r.Address)
	var word uint32
	if bo == binary.BigEndian {
		word = r.SymbolNum<<8 | uint32(r.Length&3)<<5 | uint32(r.Type&0xf)
		if r.PCRel {
			word |= 1 << 7
		}
		if r.Extern {
			word |= 1 << 4
		}
	} else {
		word = r.SymbolNum&(1<<24-1) | uint32(r.Length&3)<<25 | uint32(r.Type&0xf)<<28
		if r.PCRel {
			word |= 1 << 24
		}
		if r.Extern {
			word |= 1 << 27
		}
	}
	bo.PutUint32(b[4:], word)
}

// Applied reports whether the entry has already been consumed.
func (r RelocationInfo) Applied() bool {
	return r.Address == 0 || r.SymbolNum == RelocAbsolute
}
