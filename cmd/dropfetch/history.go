package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nao1215/dropfetch/internal/config"
	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/model"
)

// defaultHistoryLimit is the number of records listed by default.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List downloaded files recorded in the history database",
		Long: `History lists the most recent completed downloads, newest first.

Files listed here are skipped by later runs unless --ignore-history is
given to get.

Examples:
  # Show the last 20 downloads
  dropfetch history

  # Show every download as JSON
  dropfetch history --limit 0 --json`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Number of records to show (0 = all)")
	cmd.Flags().String("db-dir", "", "Directory of the download history database (default: XDG data directory)")
	cmd.Flags().BoolP("json", "j", false, "Output JSON")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	db, err := dedup.Open(dbDir, dedup.Options{CreateIfNotExists: false})
	if err != nil {
		if errors.Is(err, dedup.ErrDatabaseNotFound) {
			fmt.Fprintln(out, "No downloads recorded yet.")
			return nil
		}
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer db.Close()

	records, err := db.History(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []model.DownloadRecord{}
		}
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No downloads recorded yet.")
		return nil
	}
	writeHistoryTable(out, records)

	total, err := db.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d downloads\n", len(records), total)
	return nil
}

func writeHistoryTable(w io.Writer, records []model.DownloadRecord) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("COMPLETED", "HOST", "SIZE", "PATH").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range records {
		t.Row(
			r.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			r.Host,
			strconv.FormatInt(r.Size, 10),
			r.Path,
		)
	}
	fmt.Fprintln(w, t.String())
}
