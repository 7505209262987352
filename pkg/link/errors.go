package link

import "github.com/pkg/errors"

var (
	// ErrMalformed reports relocation metadata the engine cannot interpret.
	ErrMalformed = errors.New("malformed relocation data")
	// ErrUnresolved reports a required symbol no lookup could provide.
	ErrUnresolved = errors.New("unresolved symbol")
	// ErrRange reports a write outside its segment or an unencodable branch.
	ErrRange = errors.New("relocation out of range")
	// ErrOverlap reports a load image whose slid segments collide with the target.
	ErrOverlap = errors.New("segments overlap")
	// ErrUserlandSlide reports a nonzero slide requested in userland mode.
	ErrUserlandSlide = errors.New("userland relocation cannot apply a slide")
	// ErrNoSymtab reports a load image without LC_SYMTAB or LC_DYSYMTAB.
	ErrNoSymtab = errors.New("image has no symbol table")
)

func malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}
