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
	"fmt"
	"path/filepath"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	mcmd "github.com/blacktop/relink/internal/commands/relink"
	"github.com/blacktop/relink/internal/magic"
	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(dscCmd)
	addRelocFlags(dscCmd, "dsc")
	dscCmd.Flags().StringP("image", "i", "", "Cache dylib to relink against")
	dscCmd.MarkFlagRequired("image")
	viper.BindPFlag("dsc.image", dscCmd.Flags().Lookup("image"))
	dscCmd.MarkZshCompPositionalArgumentFile(2, "dyld_shared_cache*")
}

// dscCmd represents the dsc command
var dscCmd = &cobra.Command{
	Use:     "dsc <LOAD> <DSC>",
	Aliases: []string{"dyld"},
	Short:   "Relink a Mach-O against a dylib in a dyld_shared_cache",
	Example: heredoc.Doc(`
		# Bind a dylib against libSystem (and everything it re-exports)
		❯ relink dsc libfoo.dylib dyld_shared_cache_armv7 --image libSystem.B.dylib --mode userland
		# Slide a dylib into a free spot and bind it against UIKit
		❯ relink dsc libfoo.dylib dyld_shared_cache_armv7s -i UIKit --slide 0x2000000`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		loadPath := filepath.Clean(args[0])
		dscPath := filepath.Clean(args[1])
		image := viper.GetString("dsc.image")

		conf, err := loadConfig("dsc")
		if err != nil {
			return err
		}

		if err := checkMachO(loadPath); err != nil {
			return err
		}
		if ok, err := magic.IsDyldCache(dscPath); !ok {
			return fmt.Errorf("%s: %v", dscPath, err)
		}

		if outPath := mcmd.OutputPath(loadPath, conf); exists(outPath) && !confirm(outPath, conf.InPlace) {
			return nil
		}

		s := spinner.New(spinner.CharSets[38], 100*time.Millisecond)
		s.Prefix = color.BlueString("   • Relinking against %s... ", filepath.Base(image))
		s.Start()

		res, err := mcmd.DSC(loadPath, dscPath, image, conf)
		s.Stop()
		if err != nil {
			return err
		}
		printResult(res)

		return nil
	},
}
