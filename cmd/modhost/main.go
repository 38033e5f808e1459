package main

import (
	"fmt"
	"os"

	"github.com/labkit/modhost/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand(os.Stdout, nil)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
