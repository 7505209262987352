package link

import (
	"github.com/apex/log"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
)

const (
	// StubBinder is bound to a fixed sentinel when no provider defines it.
	StubBinder = "dyld_stub_binder"
	// StubBinderSentinel is the address given to an unresolved StubBinder.
	StubBinderSentinel = 0xdeadbeef
)

// SymbolLookup returns the address of name as provided to the load image,
// or 0 when it is not defined.
type SymbolLookup func(target *macho.Image, name string) uint64

type resolver struct {
	load   *macho.Image
	target *macho.Image
	lookup SymbolLookup
}

// byName resolves a symbol named by the compressed bind stream. A missing
// weak symbol, or any miss when soft is set, resolves to 0.
func (r *resolver) byName(name string, weak, soft bool) (uint64, error) {
	if addr := r.lookup(r.target, name); addr != 0 {
		return addr, nil
	}
	if name == StubBinder {
		return StubBinderSentinel, nil
	}
	return r.miss(name, weak, soft)
}

func (r *resolver) miss(name string, weak, soft bool) (uint64, error) {
	switch {
	case weak:
		log.Warnf("couldn't find weak symbol %s", name)
	case soft:
		log.Warnf("couldn't find symbol %s", name)
	default:
		return 0, errors.Wrapf(ErrUnresolved, "couldn't find symbol %s", name)
	}
	return 0, nil
}

// byIndex resolves the load image's symbol table entry idx. Weak references
// and soft lookups resolve to 0 when missing.
func (r *resolver) byIndex(idx uint32, soft bool) (uint64, error) {
	n, err := r.load.Symbol(idx)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "bad symbol index %d: %v", idx, err)
	}
	name, err := r.load.SymbolName(n)
	if err != nil {
		return 0, errors.Wrapf(ErrMalformed, "bad name for symbol %d: %v", idx, err)
	}
	if addr := r.lookup(r.target, name); addr != 0 {
		return addr, nil
	}
	if name == StubBinder {
		return StubBinderSentinel, nil
	}
	return r.miss(name, n.Desc.IsWeakReferenced(), soft)
}
