package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/cairn/internal/cli"
	"horse.fit/cairn/internal/globaltime"
)

func runStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, ok := loadEnvironment(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, ok := connectPool(ctx, cfg, logger)
	if !ok {
		return 1
	}
	defer pool.Close()

	now := globaltime.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	stats, err := pool.QueryResolutionStats(ctx, dayStart, dayEnd)
	if err != nil {
		logger.Error().Err(err).Msg("failed to query stats")
		fmt.Fprintf(os.Stderr, "Failed to query stats: %v\n", err)
		return 1
	}

	if err := printJSON(stats); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print stats: %v\n", err)
		return 1
	}
	return 0
}
