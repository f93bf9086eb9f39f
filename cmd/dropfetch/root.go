package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for dropfetch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropfetch",
		Short: "Crawl and download files from many hosts",
		Long: `dropfetch turns URLs into downloaded files.

Each URL is resolved by a crawler (direct file, HTML gallery or S3 prefix)
into one or more files. Files are downloaded concurrently while every host
keeps its own rate limit and concurrency budget. Interrupted downloads
resume, finished files are verified and recorded so later runs skip them.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(NewGetCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
