package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tanq16/novadl/internal/output"
	"github.com/tanq16/novadl/internal/utils"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML file of entries.

Example file:
  - link: https://example.com/file.iso
  - link: s3://mybucket/data.tar
    dir: downloads
    name: data.tar
    segments: 8`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := utils.ReadDownloadList(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading batch file: %v", err))
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintError("No valid entries found in the batch file")
				os.Exit(1)
			}
			runEntries(entries)
		},
	}
	return cmd
}
