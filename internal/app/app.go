// Package app implements the cairn CLI commands.
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
	case "validate":
		return runValidate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "resolve":
		return runResolve(args[1:])
	case "fuse":
		return runFuse(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "serve":
		return runServe(args[1:])
	case "stats":
		return runStats(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "cairn CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  cairn <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health      Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate    Validate accident record JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  ingest      Insert record payloads into the source-record ledger")
	fmt.Fprintln(os.Stderr, "  resolve     Assign unassigned records to events")
	fmt.Fprintln(os.Stderr, "  fuse        Recompute canonical records for changed events")
	fmt.Fprintln(os.Stderr, "  process     Run resolve + fuse in sequence")
	fmt.Fprintln(os.Stderr, "  run-once    Alias for process")
	fmt.Fprintln(os.Stderr, "  serve       Start the Echo API server")
	fmt.Fprintln(os.Stderr, "  stats       Print store-wide resolution statistics")
	fmt.Fprintln(os.Stderr, "  hash-token  Hash an API token for API_TOKEN configuration")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"cairn <command> -h\" for command-specific flags.")
}
