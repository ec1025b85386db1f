package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/cairn/internal/cache"
	"horse.fit/cairn/internal/classifier"
	"horse.fit/cairn/internal/cli"
	"horse.fit/cairn/internal/fusion"
	"horse.fit/cairn/internal/resolver"
)

// runProcess runs one full pass: resolve all unassigned records, then
// fuse every event whose membership changed. Both stages share one call
// budget so a capped run cannot overspend across stages.
func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	providerName := fs.String("provider", "", "Classifier provider (default from CLASSIFIER_PROVIDER)")

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

	budget := classifier.NewCallBudget(cfg.MaxClassifierCalls)
	registry := classifier.NewRegistryFromConfig(cfg, budget, logger)
	provider, err := registry.Provider(*providerName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Classifier provider: %v\n", err)
		return 2
	}

	store := cache.NewStore(pool, logger)

	resolveSummary, err := resolver.NewService(pool, store, provider, cfg, logger).Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("resolution stage failed")
		fmt.Fprintf(os.Stderr, "Resolution failed: %v\n", err)
		return 1
	}

	fuseSummary, err := fusion.NewService(pool, store, provider, cfg, logger).Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("fusion stage failed")
		fmt.Fprintf(os.Stderr, "Fusion failed: %v\n", err)
		return 1
	}

	if err := printJSON(map[string]any{
		"resolve": resolveSummary,
		"fuse":    fuseSummary,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print summary: %v\n", err)
		return 1
	}
	return 0
}
