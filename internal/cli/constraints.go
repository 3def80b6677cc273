package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/intake/internal/intake"
)

// loadConstraints starts from the defaults, applies the constraints file when
// one is given, then any flag the user set explicitly.
func loadConstraints(cmd *cobra.Command, opts *options) (intake.Constraints, error) {
	c := intake.DefaultConstraints()
	c.Multiple = true

	if opts.constraintsFile != "" {
		data, err := os.ReadFile(opts.constraintsFile)
		if err != nil {
			return c, fmt.Errorf("read constraints: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("parse constraints %s: %w", opts.constraintsFile, err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("accept") {
		c.Accept = opts.accept
	}
	if flags.Changed("max-size") {
		n, err := humanize.ParseBytes(opts.maxFileSize)
		if err != nil {
			return c, fmt.Errorf("--max-size: %w", err)
		}
		c.MaxFileSize = int64(n)
	}
	if flags.Changed("max-files") {
		c.MaxFiles = opts.maxFiles
	}
	if flags.Changed("multiple") {
		c.Multiple = opts.multiple
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func describeConstraints(c intake.Constraints) string {
	size := "unlimited"
	if c.MaxFileSize > 0 {
		size = humanize.IBytes(uint64(c.MaxFileSize))
	}
	mode := "single"
	if c.Multiple {
		mode = fmt.Sprintf("up to %d", c.MaxFiles)
	}
	return fmt.Sprintf("accept=%s max-size=%s files=%s", c.Accept, size, mode)
}
