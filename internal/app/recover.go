package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/rankwatch/internal/cli"
	"horse.fit/rankwatch/internal/ingest"
	"horse.fit/rankwatch/internal/ranking"
	"horse.fit/rankwatch/internal/store"
)

func runRecover(args []string) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 120*time.Second, "Command timeout")
	all := fs.Bool("all", false, "Rebuild every playlist found in the store")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	playlistID := ""
	if !*all {
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: rankwatch recover <playlist_id> | rankwatch recover --all")
			return 2
		}
		playlistID = strings.TrimSpace(fs.Arg(0))
		if playlistID == "" {
			fmt.Fprintln(os.Stderr, "playlist id must not be empty")
			return 2
		}
	} else if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "recover --all does not accept positional arguments")
		return 2
	}

	if !*force {
		target := fmt.Sprintf("playlist %q", playlistID)
		if *all {
			target = "ALL playlists"
		}
		ok, err := confirmDangerousAction(fmt.Sprintf("Rebuild %s from history logs, replacing the stored records?", target))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read confirmation: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return 1
		}
	}

	ctx, cancel, logger, kv, err := connectStore(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer kv.Close()

	svc := ingest.NewService(kv, logger, ranking.MinutePolicy())

	var results []ingest.RecoverResult
	if *all {
		results, err = svc.RecoverAll(ctx)
	} else {
		var result ingest.RecoverResult
		result, err = svc.RecoverPlaylist(ctx, playlistID)
		results = []ingest.RecoverResult{result}
	}
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "Another merge is in progress, retry shortly")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Recover failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			result.PlaylistID,
			fmt.Sprintf("%d", result.Logs),
			fmt.Sprintf("%d", result.Accepted),
			fmt.Sprintf("%d", result.Duplicates),
			fmt.Sprintf("%d", result.Rejected),
			fmt.Sprintf("%d", result.SkippedEntries),
		})
	}
	if err := writeTable([]string{"playlist_id", "logs", "accepted", "duplicates", "rejected", "skipped_entries"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
