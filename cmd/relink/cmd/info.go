/*
Copyright © 2018-2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/apex/log"
	"github.com/blacktop/relink/internal/colors"
	mcmd "github.com/blacktop/relink/internal/commands/relink"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("info.json", infoCmd.Flags().Lookup("json"))
	infoCmd.MarkZshCompPositionalArgumentFile(1)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:           "info <MACHO>",
	Short:         "Show the relocation surface of a Mach-O",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		machoPath := filepath.Clean(args[0])
		if err := checkMachO(machoPath); err != nil {
			return err
		}

		m, err := macho.Open(machoPath)
		if err != nil {
			return err
		}
		info := mcmd.GetInfo(m)

		if viper.GetBool("info.json") {
			dat, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(dat))
			return nil
		}

		log.WithFields(log.Fields{
			"arch": info.Arch,
			"type": info.Type,
		}).Info(colors.Symbol().Sprint(info.Name))

		fmt.Println(colors.Header().Sprint("Segments"))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, seg := range info.Segments {
			fmt.Fprintf(w, "%s\t%s\tvmsize=%s\tfilesize=%s\n",
				colors.Segment().Sprint(seg.Name),
				colors.Addr().Sprintf("%#x", seg.Addr),
				colors.Count().Sprint(humanize.Bytes(seg.Memsz)),
				colors.Count().Sprint(humanize.Bytes(seg.Filesz)))
			for _, sect := range seg.Sections {
				extra := sect.Type
				if sect.Relocs > 0 {
					extra += fmt.Sprintf(" relocs=%d", sect.Relocs)
				}
				fmt.Fprintf(w, "  %s\t%s\tsize=%s\t%s\n",
					sect.Name,
					colors.Addr().Sprintf("%#x", sect.Addr),
					humanize.Bytes(sect.Size),
					colors.Faint().Sprint(extra))
			}
		}
		w.Flush()

		fmt.Println(colors.Header().Sprint("\nRelocations"))
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "symbols\t%s\texported %s\n", colors.Count().Sprint(humanize.Comma(int64(info.Symbols))), humanize.Comma(int64(info.ExtDefs)))
		if info.DyldInfo {
			fmt.Fprintf(w, "rebase opcodes\t%s\n", humanize.Bytes(uint64(info.RebaseSize)))
			fmt.Fprintf(w, "bind opcodes\t%s\n", humanize.Bytes(uint64(info.BindSize)))
			fmt.Fprintf(w, "weak bind opcodes\t%s\n", humanize.Bytes(uint64(info.WeakBindSize)))
			fmt.Fprintf(w, "lazy bind opcodes\t%s\n", humanize.Bytes(uint64(info.LazyBindSize)))
		} else {
			fmt.Fprintf(w, "local relocations\t%s\n", colors.Count().Sprint(humanize.Comma(int64(info.LocalRelocs))))
			fmt.Fprintf(w, "external relocations\t%s\n", colors.Count().Sprint(humanize.Comma(int64(info.ExternRelocs))))
			fmt.Fprintf(w, "indirect symbols\t%s\n", colors.Count().Sprint(humanize.Comma(int64(info.Indirect))))
		}
		w.Flush()

		if len(info.Reexports) > 0 {
			fmt.Println(colors.Header().Sprint("\nRe-exports"))
			for _, re := range info.Reexports {
				fmt.Printf("  %s\n", colors.Symbol().Sprint(re))
			}
		}

		return nil
	},
}
