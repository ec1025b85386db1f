package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/cairn/internal/cli"
	"horse.fit/cairn/internal/config"
	"horse.fit/cairn/internal/db"
	"horse.fit/cairn/internal/logging"
)

// loadEnvironment applies the --env file then loads and validates
// configuration plus the logger. It prints failures itself so commands
// can just return exit code 1.
func loadEnvironment(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Logger{}, false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Logger{}, false
	}

	return cfg, logger, true
}

func connectPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*db.Pool, bool) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, false
	}
	return pool, true
}

// loadJSONInput resolves an inline JSON flag against its file override.
func loadJSONInput(inline, filePath, label string) (json.RawMessage, error) {
	if strings.TrimSpace(filePath) != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("read %s file: %w", label, err)
		}
		return data, nil
	}
	if strings.TrimSpace(inline) == "" {
		return nil, fmt.Errorf("%s is required", label)
	}
	return json.RawMessage(inline), nil
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
