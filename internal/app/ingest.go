package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/cairn/internal/cli"
	"horse.fit/cairn/internal/ingest"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	payload := fs.String("payload", "", "Accident record payload JSON")
	payloadFile := fs.String("payload-file", "", "Path to payload JSON file (overrides --payload)")
	dir := fs.String("dir", "", "Directory of payload JSON files to ingest")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	haveInline := strings.TrimSpace(*payload) != "" || strings.TrimSpace(*payloadFile) != ""
	haveDir := strings.TrimSpace(*dir) != ""
	if haveInline == haveDir {
		fmt.Fprintln(os.Stderr, "exactly one of --payload/--payload-file or --dir is required")
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

	service := ingest.NewService(pool, logger)

	if haveDir {
		result, err := service.IngestDir(ctx, *dir)
		if err != nil {
			logger.Error().Err(err).Str("dir", *dir).Msg("ingest walk failed")
			fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
			return 1
		}
		fmt.Printf("accepted=%d duplicates=%d rejected=%d\n", result.Accepted, result.Duplicates, result.Rejected)
		if result.Rejected > 0 {
			return 1
		}
		return 0
	}

	payloadJSON, err := loadJSONInput(*payload, *payloadFile, "payload")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}

	accepted, err := service.IngestPayload(ctx, payloadJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		return 1
	}
	if accepted {
		fmt.Println("ingested")
	} else {
		fmt.Println("duplicate")
	}
	return 0
}
