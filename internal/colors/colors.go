// Package colors provides the palette used by relink's terminal output.
//
// Colors are disabled automatically when stdout is not a terminal; that check
// comes from fatih/color. Init overrides it from the --color flag.
package colors

import "github.com/fatih/color"

// Init overrides the auto-detected color setting. A nil forceColor keeps the
// detected value.
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func Bold() *color.Color  { return color.New(color.Bold) }
func Faint() *color.Color { return color.New(color.Faint) }

// Header is used for section titles such as "Segments".
func Header() *color.Color { return color.New(color.Bold, color.FgHiWhite) }

// Segment is used for segment and section names.
func Segment() *color.Color { return color.New(color.Bold, color.FgHiBlue) }

// Addr is used for addresses that relocation did not change.
func Addr() *color.Color { return color.New(color.Faint, color.FgHiMagenta) }

// Moved is used for addresses that relocation slid.
func Moved() *color.Color { return color.New(color.Bold, color.FgHiGreen) }

// Symbol is used for symbol and image names.
func Symbol() *color.Color { return color.New(color.FgHiCyan) }

// Count is used for sizes and fixup counts.
func Count() *color.Color { return color.New(color.FgHiYellow) }

// Failed is used for jobs that returned an error.
func Failed() *color.Color { return color.New(color.Bold, color.FgHiRed) }
