package main

import (
	"context"
	"fmt"
	"os"

	"github.com/xela07ax/podtato-smoke/internal/cli"
)

var version = "dev"

func main() {
	root := cli.NewRootCommand(version)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
