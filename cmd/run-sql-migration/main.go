package main

import (
	"os"

	"github.com/lawrencejones/supamigrate/internal/cli"
)

func main() {
	os.Exit(cli.Migrate().Run(os.Args[1:]))
}
