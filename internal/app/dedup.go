package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/rankwatch/internal/cli"
	"horse.fit/rankwatch/internal/globaltime"
	"horse.fit/rankwatch/internal/ranking"
	"horse.fit/rankwatch/internal/store"
)

// runDedup re-canonicalizes an already-stored playlist record under a chosen
// policy, collapsing observations that a coarser bucket now considers
// duplicates. Useful after lowering the policy granularity.
func runDedup(args []string) int {
	fs := flag.NewFlagSet("dedup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	policyName := fs.String("policy", "minute", "Dedup policy: exact, minute, or window")
	window := fs.Duration("window", ranking.DefaultWindow, "Window size for the window policy")
	dryRun := fs.Bool("dry-run", false, "Preview the collapse without applying changes")
	force := fs.Bool("force", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rankwatch dedup <playlist_id> [--policy minute] [--window 5m] [--dry-run] [--force]")
		return 2
	}

	playlistID := strings.TrimSpace(fs.Arg(0))
	if playlistID == "" {
		fmt.Fprintln(os.Stderr, "playlist id must not be empty")
		return 2
	}

	policy, err := ranking.ParsePolicy(*policyName, *window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		return 2
	}

	ctx, cancel, logger, kv, err := connectStore(*timeout, envLoader)
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

	before := len(record.Keywords)
	deduped := ranking.Deduplicate(record.Keywords, policy)
	canonical := ranking.Flatten(deduped.Series)

	fmt.Printf("playlist_id=%s policy=%s before=%d after=%d collapsed=%d rejected=%d\n",
		playlistID, policy.Kind, before, len(canonical), deduped.Duplicates, deduped.Rejected)

	if *dryRun {
		fmt.Println("dry_run=true, no changes applied")
		return 0
	}
	if len(canonical) == before && deduped.Rejected == 0 {
		fmt.Println("record already canonical, nothing to do")
		return 0
	}

	if !*force {
		ok, err := confirmDangerousAction(fmt.Sprintf("Collapse %d observations on playlist %q?", before-len(canonical), playlistID))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read confirmation: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return 1
		}
	}

	release, err := kv.AcquireLock(ctx, playlistID)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "Another merge for this playlist is in progress, retry shortly")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to acquire merge lock: %v\n", err)
		return 1
	}
	defer func() {
		if err := release(ctx); err != nil {
			logger.Error().Err(err).Str("playlist_id", playlistID).Msg("failed to release merge lock")
		}
	}()

	// The record may have changed while we were previewing; reload under the
	// lock so the collapse applies to the current state.
	record, err = kv.GetPlaylist(ctx, playlistID)
	if err != nil {
		fmt.Fprintln(os.Stderr, describeLoadError(playlistID, err))
		return 1
	}
	deduped = ranking.Deduplicate(record.Keywords, policy)
	record.Keywords = ranking.Flatten(deduped.Series)
	record.LastUpdated = globaltime.UTC()

	if err := kv.PutPlaylist(ctx, record); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to store playlist: %v\n", err)
		return 1
	}

	logger.Info().
		Str("playlist_id", playlistID).
		Str("policy", string(policy.Kind)).
		Int("before", before).
		Int("after", len(record.Keywords)).
		Msg("playlist re-canonicalized")
	fmt.Printf("applied=true observations=%d\n", len(record.Keywords))
	return 0
}
