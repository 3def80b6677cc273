package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/intake"
)

// errRejected is returned by check when any file was refused, so scripts can
// rely on the exit status.
var errRejected = fmt.Errorf("some files were rejected: %w", intake.ErrRejected)

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE...",
		Short: "Report which files the constraints would accept",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}
}

func runCheck(cmd *cobra.Command, opts *options, args []string) error {
	c, err := loadConstraints(cmd, opts)
	if err != nil {
		return err
	}
	files, err := payloads(args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, describeConstraints(c))

	res := intake.Validate(0, c, files)
	for _, p := range res.Accepted {
		fmt.Fprintf(out, "ok      %s (%s, %s)\n", p.Name(), p.MediaType(), humanize.IBytes(uint64(p.Size())))
	}
	for _, r := range res.Rejections {
		fmt.Fprintf(out, "reject  %s [%s]: %s\n", r.FileName, intake.MapRejection(r).Code, r.Message)
	}

	fmt.Fprintf(out, "%d accepted, %d rejected\n", len(res.Accepted), len(res.Rejections))
	if len(res.Rejections) > 0 {
		return errRejected
	}
	return nil
}
