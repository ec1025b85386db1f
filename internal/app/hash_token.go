package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/cairn/internal/auth"
)

// runHashToken hashes a bearer token for the API_TOKEN setting. It
// needs neither config nor a database connection.
func runHashToken(args []string) int {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	token := fs.String("token", "", "API token to hash (or pass as the first argument)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	value := strings.TrimSpace(*token)
	if value == "" && fs.NArg() > 0 {
		value = strings.TrimSpace(fs.Arg(0))
	}
	if value == "" {
		fmt.Fprintln(os.Stderr, "--token or a positional token argument is required")
		return 2
	}

	hash, err := auth.HashToken(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
		return 1
	}

	fmt.Println(hash)
	return 0
}
