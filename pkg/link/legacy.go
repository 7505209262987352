package link

import (
	"github.com/apex/log"
	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

// legacyProcessor applies relocation_info tables and indirect symbol tables.
type legacyProcessor struct {
	load  *macho.Image
	res   *resolver
	mode  RelocMode
	slide uint64
	base  uint64 // r_address origin
}

func (p *legacyProcessor) run() error {
	base, err := p.load.RelocBase()
	if err != nil {
		return errors.Wrap(ErrMalformed, err.Error())
	}
	p.base = base
	dst := p.load.Dysymtab()

	if p.mode.local() {
		if err := p.relocateArea(dst.Locreloff, dst.Nlocrel); err != nil {
			return errors.Wrap(err, "local relocations")
		}
	}
	if p.mode.extern() {
		if err := p.relocateArea(dst.Extreloff, dst.Nextrel); err != nil {
			return errors.Wrap(err, "external relocations")
		}
	}

	for _, seg := range p.load.Segments() {
		for _, sect := range seg.Sections {
			if err := p.relocateSection(sect); err != nil {
				return errors.Wrapf(err, "section %s.%s", sect.Seg, sect.Name)
			}
		}
	}
	return nil
}

// relocateArea applies nreloc relocation_info entries starting at file offset reloff.
// Each applied entry is rewritten to an absolute no-op so a second pass skips it.
func (p *legacyProcessor) relocateArea(reloff, nreloc uint32) error {
	if nreloc == 0 {
		return nil
	}
	bo := p.load.ByteOrder
	table, err := p.load.Translate(uint64(reloff), uint64(nreloc)*macho.RelocationSize, macho.ByFileOffset)
	if err != nil {
		return errors.Wrapf(ErrMalformed, "relocation table at %#x: %v", reloff, err)
	}
	log.Debugf("processing %d relocations at %#x", nreloc, reloff)

	for i := uint64(0); i < uint64(nreloc); i++ {
		entry := table[i*macho.RelocationSize : (i+1)*macho.RelocationSize]
		r := macho.DecodeRelocation(entry, bo)
		if r.Scattered {
			return malformed("scattered relocation %d at %#x", i, r.Address)
		}
		if r.Length != 2 {
			return malformed("bad relocation length %d", r.Length)
		}
		if r.Applied() {
			continue
		}

		p4, err := p.load.Translate(p.base+uint64(r.Address), 4, 0)
		if err != nil {
			return errors.Wrapf(ErrRange, "relocation %d: %v", i, err)
		}

		var value uint64
		if r.Extern {
			if !p.mode.extern() {
				continue
			}
			value, err = p.res.byIndex(r.SymbolNum, p.mode.soft())
			if err != nil {
				return err
			}
			if value == 0 && p.mode.soft() {
				continue
			}
		} else {
			if !p.mode.local() {
				continue
			}
			value = p.slide
		}

		r.Address = 0
		r.SymbolNum = macho.RelocAbsolute
		r.Encode(entry, bo)

		if p.mode == ExternOnly && r.Type != types.ARM_RELOC_VANILLA {
			return malformed("non-VANILLA relocation (%s) but the slide is unknown; use __attribute__((long_call)) to avoid these", r.Type)
		}

		switch r.Type {
		case types.ARM_RELOC_VANILLA:
			word := bo.Uint32(p4)
			if p.load.Contains(uint64(word)) {
				bo.PutUint32(p4, word+uint32(value))
			}
		case types.ARM_RELOC_BR24:
			if !r.PCRel {
				return malformed("BR24 relocation %d is not pc-relative", i)
			}
			ins, err := patchBranch24(bo.Uint32(p4), value, p.slide)
			if err != nil {
				return errors.Wrapf(err, "relocation %d", i)
			}
			bo.PutUint32(p4, ins)
		default:
			return malformed("unknown relocation type %s", r.Type)
		}
	}
	return nil
}

// benignSection reports section types that carry no indirect symbols and
// need nothing beyond their own relocation entries.
func benignSection(t types.SectionFlag) bool {
	switch t {
	case types.Regular, types.Zerofill, types.CstringLiterals,
		types.ByteLiterals4, types.ByteLiterals8, types.ByteLiterals16,
		types.LiteralPointers, types.ModInitFuncPointers, types.ModTermFuncPointers,
		types.Coalesced, types.GbZerofill:
		return true
	}
	return false
}

func (p *legacyProcessor) relocateSection(sect *macho.Section) error {
	switch t := sect.Type(); {
	case sect.HasIndirectSymbols():
		if err := p.relocateIndirect(sect); err != nil {
			return err
		}
	case benignSection(t):
	default:
		if p.mode != Userland {
			return malformed("unrecognized section type %#x (%s)", uint32(t), t)
		}
	}
	return p.relocateArea(sect.Reloff, sect.Nreloc)
}

// relocateIndirect resolves the pointer slots described by the indirect
// symbol table. Stub sections only have their table entries consumed; the
// stubs' code is fixed through branch relocations.
func (p *legacyProcessor) relocateIndirect(sect *macho.Section) error {
	bo := p.load.ByteOrder
	stubs := sect.Type().IsSymbolStubs()

	stride := p.load.PointerSize()
	if stubs {
		if sect.Reserved2 == 0 {
			return malformed("symbol stub section has zero stub size")
		}
		stride = uint64(sect.Reserved2)
	}
	count := sect.Size / stride
	if count == 0 {
		return nil
	}

	dst := p.load.Dysymtab()
	if uint64(sect.Reserved1)+count > uint64(dst.Nindirectsyms) {
		return malformed("indirect symbols %d+%d exceed table of %d", sect.Reserved1, count, dst.Nindirectsyms)
	}
	indirect, err := p.load.Translate(uint64(dst.Indirectsymoff)+uint64(sect.Reserved1)*4, count*4, macho.ByFileOffset)
	if err != nil {
		return errors.Wrapf(ErrMalformed, "indirect symbol table: %v", err)
	}
	var slots []byte
	if !stubs {
		if slots, err = p.load.Translate(sect.Addr, count*stride, 0); err != nil {
			return errors.Wrapf(ErrRange, "indirect pointers: %v", err)
		}
	}
	log.Debugf("processing %d indirect symbols for %s.%s", count, sect.Seg, sect.Name)

	for i := uint64(0); i < count; i++ {
		entry := indirect[i*4 : i*4+4]
		sym := bo.Uint32(entry)
		switch sym {
		case types.INDIRECT_SYMBOL_LOCAL:
			if !p.mode.local() {
				continue
			}
			if !stubs {
				p.addSlot(slots[i*stride:], p.slide)
			}
		case types.INDIRECT_SYMBOL_ABS, types.INDIRECT_SYMBOL_LOCAL | types.INDIRECT_SYMBOL_ABS:
			continue
		default:
			if !p.mode.extern() {
				continue
			}
			addr, err := p.res.byIndex(sym, p.mode.soft())
			if err != nil {
				return err
			}
			if addr == 0 && p.mode.soft() {
				continue
			}
			if !stubs {
				p.putSlot(slots[i*stride:], addr)
			}
		}
		bo.PutUint32(entry, types.INDIRECT_SYMBOL_ABS)
	}
	return nil
}

func (p *legacyProcessor) addSlot(b []byte, delta uint64) {
	bo := p.load.ByteOrder
	if p.load.PointerSize() == 8 {
		bo.PutUint64(b, bo.Uint64(b)+delta)
		return
	}
	bo.PutUint32(b, bo.Uint32(b)+uint32(delta))
}

func (p *legacyProcessor) putSlot(b []byte, v uint64) {
	bo := p.load.ByteOrder
	if p.load.PointerSize() == 8 {
		bo.PutUint64(b, v)
		return
	}
	bo.PutUint32(b, uint32(v))
}
