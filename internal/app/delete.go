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
	"horse.fit/rankwatch/internal/territory"
)

func runDelete(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	keyword := fs.String("keyword", "", "Keyword to remove (required)")
	territoryFlag := fs.String("territory", "", "Limit removal to one territory code")
	dryRun := fs.Bool("dry-run", false, "Preview affected observations without applying changes")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rankwatch delete <playlist_id> --keyword <keyword> [--territory de] [--dry-run] [--force]")
		return 2
	}

	playlistID := strings.TrimSpace(fs.Arg(0))
	if playlistID == "" {
		fmt.Fprintln(os.Stderr, "playlist id must not be empty")
		return 2
	}
	target := strings.TrimSpace(*keyword)
	if target == "" {
		fmt.Fprintln(os.Stderr, "--keyword is required")
		return 2
	}

	territoryCode := ""
	if strings.TrimSpace(*territoryFlag) != "" {
		code, ok := territory.Normalize(*territoryFlag)
		if !ok {
			fmt.Fprintf(os.Stderr, "Invalid territory %q: must be a two-letter code\n", *territoryFlag)
			return 2
		}
		territoryCode = code
	}

	ctx, cancel, logger, kv, err := connectStore(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer kv.Close()

	if *dryRun {
		record, err := kv.GetPlaylist(ctx, playlistID)
		if err != nil {
			fmt.Fprintln(os.Stderr, describeLoadError(playlistID, err))
			return 1
		}
		affected := countKeywordObservations(record, target, territoryCode)
		fmt.Printf("dry_run=true observations_affected=%d\n", affected)
		return 0
	}

	if !*force {
		scope := "all territories"
		if territoryCode != "" {
			scope = "territory " + territoryCode
		}
		ok, err := confirmDangerousAction(fmt.Sprintf("Remove keyword %q (%s) from playlist %q?", target, scope, playlistID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read confirmation: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return 1
		}
	}

	svc := ingest.NewService(kv, logger, ranking.MinutePolicy())
	removed, err := svc.DeleteKeyword(ctx, playlistID, target, territoryCode)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "Another merge for this playlist is in progress, retry shortly")
			return 1
		}
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Playlist %s not found\n", playlistID)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		return 1
	}

	fmt.Printf("observations_removed=%d\n", removed)
	return 0
}

func countKeywordObservations(record *ranking.PlaylistRecord, keyword, territoryCode string) int {
	target := strings.ToLower(strings.TrimSpace(keyword))
	count := 0
	for _, o := range record.Keywords {
		if strings.ToLower(strings.TrimSpace(o.Keyword)) != target {
			continue
		}
		if territoryCode != "" && o.Territory != territoryCode {
			continue
		}
		count++
	}
	return count
}
