package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "recover":
		return runRecover(args[1:])
	case "delete":
		return runDelete(args[1:])
	case "stats":
		return runStats(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "rankwatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  rankwatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify store connectivity")
	fmt.Fprintln(os.Stderr, "  serve    Start the Echo API server")
	fmt.Fprintln(os.Stderr, "  ingest   Merge one observation batch into its playlist record")
	fmt.Fprintln(os.Stderr, "  dedup    Re-canonicalize a stored playlist under a dedup policy")
	fmt.Fprintln(os.Stderr, "  recover  Rebuild playlist records from keyword history logs")
	fmt.Fprintln(os.Stderr, "  delete   Remove a keyword from a playlist record and its logs")
	fmt.Fprintln(os.Stderr, "  stats    Show per-keyword ranking stats for a playlist")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"rankwatch <command> -h\" for command-specific flags.")
}
