package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"horse.fit/rankwatch/internal/cli"
	"horse.fit/rankwatch/internal/ingest"
	"horse.fit/rankwatch/internal/ranking"
	"horse.fit/rankwatch/internal/store"
	payloadschema "horse.fit/rankwatch/schema"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")
	payload := fs.String("payload", "", "Observation batch payload JSON")
	payloadFile := fs.String("payload-file", "", "Path to payload JSON file (overrides --payload)")
	policyName := fs.String("policy", "minute", "Dedup policy: exact, minute, or window")
	window := fs.Duration("window", ranking.DefaultWindow, "Window size for the window policy")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	policy, err := ranking.ParsePolicy(*policyName, *window)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		return 2
	}

	payloadJSON, err := loadJSONInput(*payload, *payloadFile, "payload")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	batch, err := payloadschema.ValidateObservationBatch(payloadJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	ctx, cancel, logger, kv, err := connectStore(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer kv.Close()

	svc := ingest.NewService(kv, logger, policy)
	result, err := svc.IngestBatch(ctx, batch)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "Another merge for this playlist is in progress, retry shortly")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}

	fmt.Printf("run_uuid=%s playlist_id=%s\n", result.RunUUID, result.PlaylistID)
	fmt.Printf("received=%d accepted=%d duplicates=%d rejected=%d truncated=%d\n",
		result.Received, result.Accepted, result.Duplicates, result.Rejected, result.Truncated)

	if len(result.RejectedReasons) > 0 {
		reasons := make([]string, 0, len(result.RejectedReasons))
		for reason := range result.RejectedReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf("rejected.%s=%d\n", reason, result.RejectedReasons[reason])
		}
	}

	return 0
}
