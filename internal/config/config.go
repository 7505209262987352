// Package config is used to load the configuration file
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/blacktop/relink/internal/utils"
	"github.com/blacktop/relink/pkg/link"
	"github.com/spf13/viper"
)

// Config holds the relocation settings of one command. Every field can come
// from a flag, from the RELINK_* environment or from the command's section of
// $HOME/.config/relink/config.yaml.
type Config struct {
	Mode      link.RelocMode
	Slide     uint64
	Symbols   []string
	Output    string
	Overwrite bool
	Jobs      int
}

type raw struct {
	Mode      string
	Slide     string
	Symbols   []string
	Output    string
	Overwrite bool
	Jobs      int
}

func (r *raw) verify() (*Config, error) {
	c := &Config{
		Symbols:   r.Symbols,
		Output:    r.Output,
		Overwrite: r.Overwrite,
		Jobs:      r.Jobs,
	}

	if r.Mode == "" {
		r.Mode = link.Both.String()
	}
	mode, err := link.ParseRelocMode(r.Mode)
	if err != nil {
		return nil, err
	}
	c.Mode = mode

	if r.Slide != "" {
		if c.Slide, err = utils.ConvertStrToInt(r.Slide); err != nil {
			return nil, fmt.Errorf("invalid slide %q: %v", r.Slide, err)
		}
	}
	if c.Mode == link.Userland && c.Slide != 0 {
		return nil, fmt.Errorf("mode %s cannot apply a slide (got %#x)", c.Mode, c.Slide)
	}

	if c.Output != "" {
		if fi, err := os.Stat(c.Output); err != nil {
			return nil, fmt.Errorf("output folder %s: %v", c.Output, err)
		} else if !fi.IsDir() {
			return nil, fmt.Errorf("output %s is not a folder", c.Output)
		}
	}

	if c.Jobs <= 0 {
		c.Jobs = runtime.NumCPU()
	}

	return c, nil
}

// LoadConfig loads the settings stored under key (e.g. "macho" or "dsc")
func LoadConfig(key string) (*Config, error) {
	r := &raw{
		Mode:      viper.GetString(key + ".mode"),
		Slide:     viper.GetString(key + ".slide"),
		Symbols:   viper.GetStringSlice(key + ".syms"),
		Output:    viper.GetString(key + ".output"),
		Overwrite: viper.GetBool(key + ".overwrite"),
		Jobs:      viper.GetInt(key + ".jobs"),
	}

	c, err := r.verify()
	if err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
