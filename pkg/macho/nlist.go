package macho

import (
	"bytes"
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"
)

const (
	nlist32Size = 12
	nlist64Size = 16
)

// An Nlist is a symbol table entry widened to 64 bits.
type Nlist struct {
	Name  uint32
	Type  types.NType
	Sect  uint8
	Desc  types.NDescType
	Value uint64
}

// Symbol decodes symbol table entry idx.
func (i *Image) Symbol(idx uint32) (Nlist, error) {
	var n Nlist
	if i.symtab == nil {
		return n, errors.New("image has no LC_SYMTAB")
	}
	if idx >= i.symtab.Nsyms {
		return n, errors.Wrapf(ErrOutOfRange, "symbol index %d out of range (nsyms %d)", idx, i.symtab.Nsyms)
	}
	size := uint64(nlist32Size)
	if i.Is64() {
		size = nlist64Size
	}
	dat, err := i.Translate(uint64(i.symtab.Symoff)+uint64(idx)*size, size, ByFileOffset)
	if err != nil {
		return n, errors.Wrapf(err, "failed to read symbol %d", idx)
	}
	bo := i.ByteOrder
	n.Name = bo.Uint32(dat[0:])
	n.Type = types.NType(dat[4])
	n.Sect = dat[5]
	n.Desc = types.NDescType(bo.Uint16(dat[6:]))
	if i.Is64() {
		n.Value = bo.Uint64(dat[8:])
	} else {
		n.Value = uint64(bo.Uint32(dat[8:]))
	}
	return n, nil
}

// SymbolName returns the string table entry for n.
func (i *Image) SymbolName(n Nlist) (string, error) {
	if i.symtab == nil {
		return "", errors.New("image has no LC_SYMTAB")
	}
	if n.Name >= i.symtab.Strsize {
		return "", errors.Wrapf(ErrOutOfRange, "string index %#x past string table of %#x bytes", n.Name, i.symtab.Strsize)
	}
	strtab, err := i.Translate(uint64(i.symtab.Stroff), uint64(i.symtab.Strsize), ByFileOffset)
	if err != nil {
		return "", errors.Wrap(err, "failed to read string table")
	}
	s := strtab[n.Name:]
	end := bytes.IndexByte(s, 0)
	if end < 0 {
		return "", errors.Errorf("unterminated symbol name at string index %#x", n.Name)
	}
	return string(s[:end]), nil
}

// LookupSymbol returns the address of the external definition called name,
// or 0 when the image does not define it. Thumb definitions come back with
// the low bit set.
func (i *Image) LookupSymbol(name string) uint64 {
	i.symOnce.Do(func() {
		i.symIndex, i.symErr = i.exportedSymbols()
	})
	return i.symIndex[name]
}

// SymbolIndexError returns the error, if any, hit while indexing the image's
// exported symbols for LookupSymbol.
func (i *Image) SymbolIndexError() error {
	i.LookupSymbol("")
	return i.symErr
}

func (i *Image) exportedSymbols() (map[string]uint64, error) {
	syms := make(map[string]uint64)
	if i.symtab == nil {
		return syms, nil
	}
	first, count := uint32(0), i.symtab.Nsyms
	if i.dysymtab != nil && i.dysymtab.Nextdefsym > 0 {
		first, count = i.dysymtab.Iextdefsym, i.dysymtab.Nextdefsym
	}
	for idx := first; idx-first < count; idx++ {
		n, err := i.Symbol(idx)
		if err != nil {
			return syms, err
		}
		if !isExternalDefinition(n.Type) {
			continue
		}
		name, err := i.SymbolName(n)
		if err != nil {
			return syms, err
		}
		if _, dup := syms[name]; dup {
			continue
		}
		value := n.Value
		if n.Desc.IsArmThumbDefintion() {
			value |= 1
		}
		syms[name] = value
	}
	return syms, nil
}

// isExternalDefinition reports whether t is an exported, non-debug symbol
// defined in a section or as an absolute value.
func isExternalDefinition(t types.NType) bool {
	if t.IsDebugSym() || !t.IsExternalSym() {
		return false
	}
	return t.IsDefinedInSection() || t.IsAbsoluteSym()
}

// PutNlist encodes n in the on-disk layout for the given word size.
func PutNlist(b []byte, bo binary.ByteOrder, n Nlist, is64 bool) int {
	bo.PutUint32(b[0:], n.Name)
	b[4] = byte(n.Type)
	b[5] = n.Sect
	bo.PutUint16(b[6:], uint16(n.Desc))
	if is64 {
		bo.PutUint64(b[8:], n.Value)
		return nlist64Size
	}
	bo.PutUint32(b[8:], uint32(n.Value))
	return nlist32Size
}
