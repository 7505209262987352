package link

import (
	"fmt"
	"strings"
)

// RelocMode selects which relocations a Relocate call applies.
type RelocMode int

const (
	// LocalOnly applies only the slide to intra-image pointers.
	LocalOnly RelocMode = iota
	// ExternOnly binds external symbols without knowing the final slide.
	ExternOnly
	// Userland binds external symbols and tolerates missing ones, with no slide.
	Userland
	// Both applies the slide and binds external symbols.
	Both
)

var modeNames = map[RelocMode]string{
	LocalOnly:  "local",
	ExternOnly: "extern",
	Userland:   "userland",
	Both:       "both",
}

func (m RelocMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("RelocMode(%d)", int(m))
}

// ParseRelocMode accepts the names printed by String.
func ParseRelocMode(s string) (RelocMode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown relocation mode %q (must be one of local, extern, userland, both)", s)
}

func (m RelocMode) valid() bool {
	_, ok := modeNames[m]
	return ok
}

// local reports whether slide-only fixups (local relocations, rebase info,
// INDIRECT_SYMBOL_LOCAL slots) are applied.
func (m RelocMode) local() bool {
	switch m {
	case LocalOnly, Both:
		return true
	case ExternOnly, Userland:
		return false
	}
	panic(fmt.Sprintf("invalid relocation mode %d", m))
}

// extern reports whether symbol bindings are applied.
func (m RelocMode) extern() bool {
	switch m {
	case ExternOnly, Userland, Both:
		return true
	case LocalOnly:
		return false
	}
	panic(fmt.Sprintf("invalid relocation mode %d", m))
}

// slides reports whether the slide may touch rebase info and segment addresses.
func (m RelocMode) slides() bool {
	switch m {
	case LocalOnly, Userland, Both:
		return true
	case ExternOnly:
		return false
	}
	panic(fmt.Sprintf("invalid relocation mode %d", m))
}

// soft reports whether missing symbols are tolerated.
func (m RelocMode) soft() bool {
	switch m {
	case Userland:
		return true
	case LocalOnly, ExternOnly, Both:
		return false
	}
	panic(fmt.Sprintf("invalid relocation mode %d", m))
}
