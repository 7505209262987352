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
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/relink/internal/colors"
	mcmd "github.com/blacktop/relink/internal/commands/relink"
	"github.com/blacktop/relink/internal/utils"
	"github.com/caarlos0/ctrlc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func init() {
	rootCmd.AddCommand(batchCmd)
	addRelocFlags(batchCmd, "batch")
	batchCmd.Flags().IntP("jobs", "j", 0, "Number of images to relink at once (default: number of CPUs)")
	viper.BindPFlag("batch.jobs", batchCmd.Flags().Lookup("jobs"))
}

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <TARGET> <LOAD>...",
	Short: "Relink many Mach-Os against the same target",
	Example: heredoc.Doc(`
		# Bind every kext in a folder against the kernel, 4 at a time
		❯ relink batch kernel kexts/* --mode extern -j 4 -o relinked/`),
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		targetPath := filepath.Clean(args[0])

		conf, err := loadConfig("batch")
		if err != nil {
			return err
		}
		if err := checkMachO(targetPath); err != nil {
			return err
		}

		var jobs []mcmd.Job
		for _, arg := range args[1:] {
			loadPath := filepath.Clean(arg)
			if err := checkMachO(loadPath); err != nil {
				log.Warn(err.Error())
				continue
			}
			jobs = append(jobs, mcmd.Job{Load: loadPath, Target: targetPath})
		}

		jobs, existing := mcmd.SplitExisting(jobs, conf)
		if len(existing) > 0 {
			if confirm(fmt.Sprintf("%d existing files", len(existing)), conf.InPlace) {
				jobs = append(jobs, existing...)
			} else {
				for _, job := range existing {
					log.Warnf("Skipping %s: %s already exists", job.Load, mcmd.OutputPath(job.Load, conf))
				}
			}
		}

		log.WithFields(log.Fields{
			"images": len(jobs),
			"jobs":   conf.Jobs,
		}).Info("Relinking")

		p := mpb.New(mpb.WithWidth(80))
		name := "      "
		bar := p.New(int64(len(jobs)),
			mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name), C: decor.DindentRight | decor.DextraSpace}),
				decor.OnComplete(
					decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "✅ ",
				),
			),
			mpb.AppendDecorators(
				decor.CountersNoUnit("%d/%d"),
				decor.Name(" ] "),
			),
		)
		conf.Progress = func(job mcmd.Job, err error) {
			bar.Increment()
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		var results []*mcmd.Result
		err = ctrlc.Default.Run(ctx, func() error {
			var berr error
			results, berr = mcmd.Batch(ctx, jobs, conf)
			return berr
		})
		if errors.As(err, &ctrlc.ErrorCtrlC{}) {
			cancel()
			bar.Abort(false)
			p.Wait()
			log.Warn("Exiting...")
			return nil
		}
		p.Wait()

		for i, res := range results {
			if res == nil {
				utils.Indent(log.Error, 2)(colors.Failed().Sprintf("%s", jobs[i].Load))
				continue
			}
			utils.Indent(log.Info, 2)(fmt.Sprintf("%s -> %s", res.Input, res.Output))
		}

		return err
	},
}
