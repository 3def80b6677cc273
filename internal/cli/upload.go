package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/intake/internal/intake"
	"github.com/JonMunkholm/intake/internal/storage"
)

type uploadOptions struct {
	mode      string
	keepGoing bool

	dir     string
	baseURL string

	bucket   string
	region   string
	endpoint string
}

func newUploadCmd(opts *options) *cobra.Command {
	u := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Validate files and upload the accepted ones",
		Long: `Validate files against the constraints and upload the accepted ones.

Files are written under --dir unless --bucket is given, in which case they are
stored in that S3 bucket using the default AWS credential chain.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, u, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&u.mode, "mode", "m", "per-file", "upload strategy: per-file or batch")
	flags.BoolVar(&u.keepGoing, "keep-going", false, "continue a per-file run after a failure")
	flags.StringVar(&u.dir, "dir", "./data", "directory for the filesystem sink")
	flags.StringVar(&u.baseURL, "base-url", "", "public base URL prefixed to references")
	flags.StringVar(&u.bucket, "bucket", "", "S3 bucket; enables the S3 sink")
	flags.StringVar(&u.region, "region", "us-east-1", "S3 region")
	flags.StringVar(&u.endpoint, "endpoint", "", "S3-compatible endpoint URL")
	return cmd
}

func (u *uploadOptions) sink(ctx context.Context) (storage.Sink, error) {
	if u.bucket == "" {
		return storage.NewFSSink(u.dir, u.baseURL), nil
	}
	s, err := storage.NewS3Sink(ctx, storage.S3Options{
		Bucket:        u.bucket,
		Region:        u.region,
		Endpoint:      u.endpoint,
		PublicBaseURL: u.baseURL,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func runUpload(cmd *cobra.Command, opts *options, u *uploadOptions, args []string) error {
	if u.mode != "per-file" && u.mode != "batch" {
		return fmt.Errorf("unknown --mode %q: %w", u.mode, intake.ErrInvalidInput)
	}

	c, err := loadConstraints(cmd, opts)
	if err != nil {
		return err
	}
	c.Preview = false

	files, err := payloads(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sink, err := u.sink(ctx)
	if err != nil {
		return err
	}

	e := intake.New(c,
		intake.WithLogger(slog.Default()),
		intake.WithAbortOnError(!u.keepGoing),
	)

	updates, unsubscribe := e.Subscribe()
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		reportProgress(cmd.ErrOrStderr(), updates)
	}()

	var res intake.RunResult
	if u.mode == "batch" {
		res = e.RunBatchUpload(ctx, files, storage.BatchUploadFunc(sink))
	} else {
		res = e.RunPerFileUpload(ctx, files, storage.UploadFunc(sink))
	}
	unsubscribe()
	<-reported

	printSummary(cmd.OutOrStdout(), res)
	if res.Err != nil {
		return res.Err
	}
	if len(res.Rejections) > 0 {
		return errRejected
	}
	return nil
}

// reportProgress prints a line whenever an entry changes status.
func reportProgress(w io.Writer, updates <-chan intake.Snapshot) {
	seen := make(map[string]intake.Status)
	for snap := range updates {
		for _, d := range snap.Entries {
			if seen[d.ID] == d.Status {
				continue
			}
			seen[d.ID] = d.Status
			fmt.Fprintf(w, "%-9s %s\n", d.Status, d.Name)
		}
	}
}

func printSummary(w io.Writer, res intake.RunResult) {
	for _, d := range res.Entries {
		switch d.Status {
		case intake.StatusSuccess:
			fmt.Fprintf(w, "uploaded  %s (%s) -> %s\n", d.Name, humanize.IBytes(uint64(d.Size)), d.RemoteReference)
		case intake.StatusError:
			fmt.Fprintf(w, "failed    %s: %s\n", d.Name, d.ErrorMessage)
		default:
			fmt.Fprintf(w, "skipped   %s\n", d.Name)
		}
	}
	for _, r := range res.Rejections {
		fmt.Fprintf(w, "rejected  %s: %s\n", r.FileName, r.Message)
	}

	counts := lo.CountValuesBy(res.Entries, func(d intake.FileDescriptor) intake.Status { return d.Status })
	fmt.Fprintf(w, "%d uploaded, %d failed, %d rejected\n",
		counts[intake.StatusSuccess], counts[intake.StatusError], len(res.Rejections))
}
