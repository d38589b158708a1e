package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/rankwatch/internal/cli"
	"horse.fit/rankwatch/internal/ranking"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rankwatch stats <playlist_id> [--format table]")
		return 2
	}

	playlistID := strings.TrimSpace(fs.Arg(0))
	if playlistID == "" {
		fmt.Fprintln(os.Stderr, "playlist id must not be empty")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, _, kv, err := connectStore(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer kv.Close()

	record, err := kv.GetPlaylist(ctx, playlistID)
	if err != nil {
		fmt.Fprintln(os.Stderr, describeLoadError(playlistID, err))
		return 1
	}

	stats := ranking.ComputeAllStats(record)

	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{
			"playlist_id":  record.ID,
			"name":         record.Name,
			"last_updated": record.LastUpdated,
			"items":        stats,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(stats))
	for _, item := range stats {
		rows = append(rows, []string{
			item.Keyword,
			item.Territory,
			fmt.Sprintf("%d", item.CurrentPosition),
			string(item.Trend),
			fmt.Sprintf("%d", item.BestPosition),
			fmt.Sprintf("%d", item.WorstPosition),
			fmt.Sprintf("%+d", item.Delta),
			fmt.Sprintf("%d", item.Observations),
		})
	}
	if err := writeTable([]string{"keyword", "territory", "current", "trend", "best", "worst", "delta", "observations"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
