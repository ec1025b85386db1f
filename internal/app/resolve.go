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
	"horse.fit/cairn/internal/resolver"
)

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
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
	service := resolver.NewService(pool, store, provider, cfg, logger)

	summary, err := service.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("resolution run failed")
		fmt.Fprintf(os.Stderr, "Resolution failed: %v\n", err)
		return 1
	}

	if err := printJSON(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print summary: %v\n", err)
		return 1
	}
	return 0
}
