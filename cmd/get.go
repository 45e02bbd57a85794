package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tanq16/novadl/internal/output"
	"github.com/tanq16/novadl/internal/scheduler"
	"github.com/tanq16/novadl/internal/utils"
)

func newGetCmd() *cobra.Command {
	var outputDir string
	var name string

	cmd := &cobra.Command{
		Use:   "get [URL]... [--output DIR] [--name NAME]",
		Short: "Download one or more URLs (http, https, s3)",
		Long: `Download one or more URLs in byte-range segments.

Examples:
  novadl get https://example.com/file.iso
  novadl get https://example.com/a.zip https://example.com/b.zip -o downloads
  novadl get s3://mybucket/path/to/file.zip --s3-profile myprofile`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if name != "" && len(args) > 1 {
				output.PrintError("--name can only be used with a single URL")
				os.Exit(1)
			}
			entries := make([]utils.DownloadEntry, 0, len(args))
			for _, link := range args {
				entries = append(entries, utils.DownloadEntry{URL: link, SaveDir: outputDir, Filename: name})
			}
			runEntries(entries)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to save into (defaults to save_dir from config)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "File name (inferred from the URL if not provided)")
	return cmd
}

// runEntries downloads entries and exits non-zero if any of them did not complete.
func runEntries(entries []utils.DownloadEntry) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	failures := scheduler.Run(ctx, entries, cfg, scheduler.NewSources(cfg), os.Stdout, outputMode())
	if jsonOutput {
		if failures > 0 {
			os.Exit(1)
		}
		return
	}
	if failures > 0 {
		output.PrintError(scheduler.Describe(len(entries), failures))
		os.Exit(1)
	}
	output.PrintSuccess(scheduler.Describe(len(entries), failures))
}
