package link

import (
	"github.com/apex/log"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

// Relocate links load against target in place. Local fixups move by slide;
// external references are resolved through lookup, or through
// target.LookupSymbol when lookup is nil. The same image may be passed as
// load and target to slide it in place; it is not checked for overlap with itself.
//
// Any error leaves load in an unspecified, possibly partially patched state.
func Relocate(load, target *macho.Image, mode RelocMode, lookup SymbolLookup, slide uint64) error {
	if !mode.valid() {
		return errors.Errorf("invalid relocation mode %d", int(mode))
	}
	if mode == Userland && slide != 0 {
		return errors.Wrapf(ErrUserlandSlide, "slide %#x", slide)
	}
	if load.Symtab() == nil || load.Dysymtab() == nil {
		return errors.Wrapf(ErrNoSymtab, "%s has no LC_SYMTAB/LC_DYSYMTAB", load.Name)
	}
	if err := target.SymbolIndexError(); err != nil {
		return errors.Wrapf(ErrMalformed, "symbol table of %s: %v", target.Name, err)
	}
	if lookup == nil {
		lookup = func(t *macho.Image, name string) uint64 { return t.LookupSymbol(name) }
	}
	if load != target {
		if err := checkOverlap(load, target, slide); err != nil {
			return err
		}
	}

	res := &resolver{load: load, target: target, lookup: lookup}
	log.WithFields(log.Fields{
		"load":   load.Name,
		"target": target.Name,
		"mode":   mode,
		"slide":  slide,
	}).Debug("Relocating")

	if info := load.DyldInfo(); info != nil {
		if err := relocateDyldInfo(load, res, info, mode, slide); err != nil {
			return err
		}
	} else {
		p := &legacyProcessor{load: load, res: res, mode: mode, slide: slide}
		if err := p.run(); err != nil {
			return err
		}
	}

	if mode.slides() && slide != 0 {
		return slideSegments(load, slide)
	}
	return nil
}

// checkOverlap fails if any load segment, moved by slide, shares an address
// with any target segment.
func checkOverlap(load, target *macho.Image, slide uint64) error {
	for _, a := range load.Segments() {
		for _, b := range target.Segments() {
			diff := b.Addr - (a.Addr + slide)
			if diff < a.Memsz || -diff < b.Memsz {
				return errors.Wrapf(ErrOverlap, "load %s %#x+%#x, target %s %#x+%#x",
					a.Name, a.Addr+slide, a.Memsz, b.Name, b.Addr, b.Memsz)
			}
		}
	}
	return nil
}

func relocateDyldInfo(load *macho.Image, res *resolver, info *macho.DyldInfo, mode RelocMode, slide uint64) error {
	e := &opcodeInterpreter{load: load, res: res, slide: slide}

	stream := func(off, size uint32) ([]byte, error) {
		if off == 0 || size == 0 {
			return nil, nil
		}
		b, err := load.Translate(uint64(off), uint64(size), macho.ByFileOffset)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "opcode stream at %#x: %v", off, err)
		}
		return b, nil
	}

	if mode.slides() && slide != 0 {
		b, err := stream(info.RebaseOff, info.RebaseSize)
		if err != nil {
			return err
		}
		if err := e.rebase(b); err != nil {
			return errors.Wrap(err, "rebase")
		}
	}

	if !mode.extern() {
		return nil
	}
	binds := []struct {
		name      string
		off, size uint32
		weak      bool
	}{
		{"lazy bind", info.LazyBindOff, info.LazyBindSize, false},
		{"weak bind", info.WeakBindOff, info.WeakBindSize, true},
		{"bind", info.BindOff, info.BindSize, false},
	}
	for _, bs := range binds {
		b, err := stream(bs.off, bs.size)
		if err != nil {
			return err
		}
		if err := e.bind(b, bs.weak, mode.soft()); err != nil {
			return errors.Wrap(err, bs.name)
		}
	}
	return nil
}

// slideSegments moves the image's own segment and section descriptors.
func slideSegments(load *macho.Image, slide uint64) error {
	for _, seg := range load.Segments() {
		if err := seg.SetAddr(seg.Addr + slide); err != nil {
			return errors.Wrapf(ErrRange, "segment %s: %v", seg.Name, err)
		}
		for _, sect := range seg.Sections {
			if err := sect.SetAddr(sect.Addr + slide); err != nil {
				return errors.Wrapf(ErrRange, "section %s.%s: %v", sect.Seg, sect.Name, err)
			}
		}
	}
	return nil
}
