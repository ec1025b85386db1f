package main

import (
	"os"

	"horse.fit/cairn/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
