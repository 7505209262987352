package link

import (
	gomacho "github.com/blacktop/go-macho"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

// ImageLookup resolves through the target first and then through each
// provider in order, e.g. the images a dylib re-exports. It fails if any
// provider's symbol table can't be indexed.
func ImageLookup(providers ...*macho.Image) (SymbolLookup, error) {
	for _, img := range providers {
		if err := img.SymbolIndexError(); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "symbol table of %s: %v", img.Name, err)
		}
	}
	return func(target *macho.Image, name string) uint64 {
		if addr := target.LookupSymbol(name); addr != 0 {
			return addr
		}
		for _, img := range providers {
			if img == target {
				continue
			}
			if addr := img.LookupSymbol(name); addr != 0 {
				return addr
			}
		}
		return 0
	}, nil
}

// ChainLookup returns the first nonzero answer of lookups.
func ChainLookup(lookups ...SymbolLookup) SymbolLookup {
	return func(target *macho.Image, name string) uint64 {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if addr := l(target, name); addr != 0 {
				return addr
			}
		}
		return 0
	}
}

// FileLookup indexes the external definitions of extra Mach-O files (for
// example a symbol-only kext or a stripped kernel's companion) and answers
// from them regardless of the target.
func FileLookup(paths ...string) (SymbolLookup, error) {
	syms := make(map[string]uint64)
	for _, path := range paths {
		m, err := gomacho.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open symbol file %s", path)
		}
		if m.Symtab != nil {
			for _, sym := range m.Symtab.Syms {
				if sym.Type.IsDebugSym() || !sym.Type.IsExternalSym() || sym.Type.IsUndefinedSym() {
					continue
				}
				if _, dup := syms[sym.Name]; dup {
					continue
				}
				value := sym.Value
				if sym.Desc.IsArmThumbDefintion() {
					value |= 1
				}
				syms[sym.Name] = value
			}
		}
		m.Close()
	}
	return func(_ *macho.Image, name string) uint64 {
		return syms[name]
	}, nil
}
