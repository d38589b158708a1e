package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/rankwatch/internal/cli"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, cancel, _, kv, err := connectStore(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer kv.Close()

	if err := kv.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Store unreachable: %v\n", err)
		return 1
	}

	fmt.Println("store=ok")
	return 0
}
