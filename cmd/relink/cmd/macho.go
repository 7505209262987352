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
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/relink/internal/colors"
	mcmd "github.com/blacktop/relink/internal/commands/relink"
	"github.com/blacktop/relink/internal/config"
	"github.com/blacktop/relink/internal/magic"
	"github.com/blacktop/relink/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(machoCmd)
	addRelocFlags(machoCmd, "macho")
	machoCmd.MarkZshCompPositionalArgumentFile(1)
	machoCmd.MarkZshCompPositionalArgumentFile(2)
}

// addRelocFlags registers the flags shared by every relocating command and
// binds them under key.
func addRelocFlags(cmd *cobra.Command, key string) {
	cmd.Flags().StringP("mode", "m", "both", "Relocation mode (local, extern, userland, both)")
	cmd.Flags().StringP("slide", "s", "", "Slide to apply to the image (hex or decimal)")
	cmd.Flags().StringSlice("syms", []string{}, "Extra Mach-O file(s) to resolve symbols from")
	cmd.Flags().StringP("output", "o", "", "Folder to write relinked files to")
	cmd.Flags().BoolP("overwrite", "f", false, "Overwrite the input file")
	cmd.RegisterFlagCompletionFunc("mode", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return relocModes, cobra.ShellCompDirectiveNoFileComp
	})
	viper.BindPFlag(key+".mode", cmd.Flags().Lookup("mode"))
	viper.BindPFlag(key+".slide", cmd.Flags().Lookup("slide"))
	viper.BindPFlag(key+".syms", cmd.Flags().Lookup("syms"))
	viper.BindPFlag(key+".output", cmd.Flags().Lookup("output"))
	viper.BindPFlag(key+".overwrite", cmd.Flags().Lookup("overwrite"))
}

var relocModes = []string{"local", "extern", "userland", "both"}

func confirm(path string, overwrite bool) bool {
	if overwrite {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Warnf("%s already exists (use --overwrite to replace it)", path)
		return false
	}
	yes := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("You are about to overwrite %s. Continue?", filepath.Base(path)),
	}
	survey.AskOne(prompt, &yes)
	return yes
}

// loadConfig reads the settings bound under key and converts them into a
// relink run configuration.
func loadConfig(key string) (*mcmd.Config, error) {
	c, err := config.LoadConfig(key)
	if err != nil {
		return nil, err
	}
	if !utils.StrSliceHas(relocModes, c.Mode.String()) {
		return nil, fmt.Errorf("unsupported mode %s; must be one of %v", c.Mode, relocModes)
	}
	return &mcmd.Config{
		Mode:    c.Mode,
		Slide:   c.Slide,
		Symbols: c.Symbols,
		Output:  c.Output,
		InPlace: c.Overwrite,
		Jobs:    c.Jobs,
	}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func checkMachO(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("file %s does not exist", path)
	}
	if ok, err := magic.IsMachO(path); !ok {
		return fmt.Errorf("%s: %v", path, err)
	}
	return nil
}

func printResult(res *mcmd.Result) {
	log.WithFields(log.Fields{
		"target": res.Target,
		"mode":   res.Mode,
		"slide":  fmt.Sprintf("%#x", res.Slide),
	}).Info("Relinked")
	for _, seg := range res.Segments {
		addr := colors.Addr().Sprintf("%#x", seg.After)
		if seg.After != seg.Before {
			addr = colors.Moved().Sprintf("%#x -> %#x", seg.Before, seg.After)
		}
		utils.Indent(log.Info, 2)(fmt.Sprintf("%-16s %s", colors.Segment().Sprint(seg.Name), addr))
	}
	log.Infof("Created %s", res.Output)
}

// machoCmd represents the macho command
var machoCmd = &cobra.Command{
	Use:   "macho <LOAD> <TARGET>",
	Short: "Relink a Mach-O against a target Mach-O",
	Example: heredoc.Doc(`
		# Slide a kext by 0x4000 and bind it against the kernel
		❯ relink macho com.apple.driver.foo kernel --slide 0x4000
		# Only bind external symbols (slide not known yet)
		❯ relink macho com.apple.driver.foo kernel --mode extern
		# Bind a userland dylib, tolerating missing weak imports
		❯ relink macho libfoo.dylib libSystem.B.dylib --mode userland
		# Resolve extra symbols from a symbol file
		❯ relink macho com.apple.driver.foo kernel --syms kernel.syms`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		loadPath := filepath.Clean(args[0])
		targetPath := filepath.Clean(args[1])

		conf, err := loadConfig("macho")
		if err != nil {
			return err
		}

		for _, path := range []string{loadPath, targetPath} {
			if err := checkMachO(path); err != nil {
				return err
			}
		}

		if outPath := mcmd.OutputPath(loadPath, conf); exists(outPath) && !confirm(outPath, conf.InPlace) {
			return nil
		}

		res, err := mcmd.MachO(loadPath, targetPath, conf)
		if err != nil {
			return err
		}
		printResult(res)

		return nil
	},
}
