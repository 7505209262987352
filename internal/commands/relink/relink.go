// Package relink implements the `relink` commands
package relink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/relink/internal/utils"
	"github.com/blacktop/relink/pkg/dyld"
	"github.com/blacktop/relink/pkg/link"
	"github.com/blacktop/relink/pkg/macho"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config is the configuration for a relink run
type Config struct {
	Mode    link.RelocMode
	Slide   uint64
	Symbols []string // extra Mach-O files to resolve symbols from
	Output  string   // folder to write relinked files to (default: next to the input)
	InPlace bool     // overwrite the input instead of writing <name>.relinked
	Jobs    int

	// Progress is called from the worker goroutine after each batch job.
	Progress func(job Job, err error)
}

// Segment records where a segment of the relinked image was and now is
type Segment struct {
	Name   string `json:"name"`
	Before uint64 `json:"before"`
	After  uint64 `json:"after"`
	Size   uint64 `json:"size"`
}

// Result describes a completed relink
type Result struct {
	Input    string    `json:"input"`
	Output   string    `json:"output"`
	Target   string    `json:"target"`
	Mode     string    `json:"mode"`
	Slide    uint64    `json:"slide"`
	Segments []Segment `json:"segments"`
}

// Job is one LOAD/TARGET pair of a batch run
type Job struct {
	Load   string
	Target string
}

// OutputPath returns where the relinked copy of loadPath is written
func OutputPath(loadPath string, conf *Config) string {
	if conf.InPlace {
		return loadPath
	}
	folder := filepath.Dir(loadPath)
	if len(conf.Output) > 0 {
		folder = conf.Output
	}
	return filepath.Join(folder, filepath.Base(loadPath)+".relinked")
}

func (c *Config) lookup(base link.SymbolLookup) (link.SymbolLookup, error) {
	if len(c.Symbols) == 0 {
		return base, nil
	}
	extra, err := link.FileLookup(c.Symbols...)
	if err != nil {
		return nil, err
	}
	return link.ChainLookup(base, extra), nil
}

func snapshot(img *macho.Image) []Segment {
	var segs []Segment
	for _, seg := range img.Segments() {
		segs = append(segs, Segment{Name: seg.Name, Before: seg.Addr, Size: seg.Memsz})
	}
	return segs
}

func run(load, target *macho.Image, lookup link.SymbolLookup, loadPath string, conf *Config) (*Result, error) {
	lookup, err := conf.lookup(lookup)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Input:    loadPath,
		Output:   OutputPath(loadPath, conf),
		Target:   target.Name,
		Mode:     conf.Mode.String(),
		Slide:    conf.Slide,
		Segments: snapshot(load),
	}

	if err := link.Relocate(load, target, conf.Mode, lookup, conf.Slide); err != nil {
		return nil, errors.Wrapf(err, "failed to relink %s", loadPath)
	}
	for i, seg := range load.Segments() {
		res.Segments[i].After = seg.Addr
	}

	perm := os.FileMode(0o755)
	if fi, err := os.Stat(loadPath); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := utils.WriteFileAtomic(res.Output, load.Bytes(), perm); err != nil {
		return nil, fmt.Errorf("failed to write %s: %v", res.Output, err)
	}
	log.WithField("path", res.Output).Debug("Wrote relinked file")

	return res, nil
}

// SplitExisting separates jobs whose output file already exists from the
// rest, keeping job order in both.
func SplitExisting(jobs []Job, conf *Config) (fresh, existing []Job) {
	for _, job := range jobs {
		if _, err := os.Stat(OutputPath(job.Load, conf)); err == nil {
			existing = append(existing, job)
		} else {
			fresh = append(fresh, job)
		}
	}
	return fresh, existing
}

// MachO relinks the Mach-O at loadPath against the Mach-O at targetPath.
// When both paths name the same file the image is relinked against itself,
// which slides it in place.
func MachO(loadPath, targetPath string, conf *Config) (*Result, error) {
	load, err := macho.Open(loadPath)
	if err != nil {
		return nil, err
	}
	target := load
	if filepath.Clean(targetPath) != filepath.Clean(loadPath) {
		if target, err = macho.Open(targetPath); err != nil {
			return nil, err
		}
	}
	return run(load, target, nil, loadPath, conf)
}

// DSC relinks the Mach-O at loadPath against image inside the
// dyld_shared_cache at cachePath. Symbols the image re-exports from other
// cache dylibs are resolved as well.
func DSC(loadPath, cachePath, image string, conf *Config) (*Result, error) {
	f, err := dyld.Open(cachePath)
	if err != nil {
		return nil, err
	}
	closure, err := f.ReexportClosure(image)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"image":     closure[0].Name,
		"reexports": len(closure) - 1,
	}).Debug("Resolved cache image")

	load, err := macho.Open(loadPath)
	if err != nil {
		return nil, err
	}
	lookup, err := link.ImageLookup(closure[1:]...)
	if err != nil {
		return nil, err
	}
	return run(load, closure[0], lookup, loadPath, conf)
}

// Batch relinks every job concurrently, at most conf.Jobs at a time. Results
// are returned in job order; a failed job leaves a nil entry and its error is
// joined into the returned error.
func Batch(ctx context.Context, jobs []Job, conf *Config) ([]*Result, error) {
	results := make([]*Result, len(jobs))
	errs := make([]error, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	if conf.Jobs > 0 {
		g.SetLimit(conf.Jobs)
	}
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			res, err := MachO(job.Load, job.Target, conf)
			if conf.Progress != nil {
				conf.Progress(job, err)
			}
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("%d of %d jobs failed (first: %w)", len(failed), len(jobs), failed[0])
	}
	return results, nil
}
