package app

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	recordschema "horse.fit/cairn/schema"
)

// runValidate schema-checks record payload files without touching the
// database; it needs no environment.
func runValidate(args []string) int {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	flags.SetOutput(os.Stderr)

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	paths := flags.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cairn validate <file.json|dir> [...]")
		return 2
	}

	valid, invalid := 0, 0
	for _, path := range paths {
		files, err := collectJSONFiles(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			return 1
		}
		for _, file := range files {
			if err := validateFile(file); err != nil {
				fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", file, err)
				invalid++
				continue
			}
			fmt.Printf("valid   %s\n", file)
			valid++
		}
	}

	fmt.Printf("\n%d valid, %d invalid\n", valid, invalid)
	if invalid > 0 {
		return 1
	}
	return 0
}

func validateFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = recordschema.ValidateAccidentRecordPayload(payload)
	return err
}

func collectJSONFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	files := make([]string, 0, 16)
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !entry.IsDir() && strings.EqualFold(filepath.Ext(p), ".json") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
