package main

import (
	"context"
	"os"

	"teachhelper-console/internal/cli"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	os.Exit(cli.Execute(context.Background(), cli.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}))
}
