// Package cli implements intakectl, a command line front end to the intake
// engine for checking and uploading local files.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/intake"
	"github.com/JonMunkholm/intake/internal/logging"
)

// options are the flags shared by every subcommand.
type options struct {
	constraintsFile string
	accept          string
	maxFileSize     string
	maxFiles        int
	multiple        bool
	logLevel        string
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the intakectl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "intakectl",
		Short:         "Check and upload files against intake constraints",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(opts.logLevel, "text")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.constraintsFile, "constraints", "c", "", "YAML file with intake constraints")
	flags.StringVar(&opts.accept, "accept", "", "accepted media types, e.g. \"image/*,.pdf\"")
	flags.StringVar(&opts.maxFileSize, "max-size", "", "per-file size limit, e.g. \"10MB\"")
	flags.IntVar(&opts.maxFiles, "max-files", 0, "maximum number of accepted files")
	flags.BoolVar(&opts.multiple, "multiple", true, "allow more than one file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newUploadCmd(opts))
	return root
}

// payloads turns paths into file payloads.
func payloads(paths []string) ([]intake.Payload, error) {
	out := make([]intake.Payload, 0, len(paths))
	for _, p := range paths {
		fp, err := intake.NewFilePayload(p)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, nil
}
