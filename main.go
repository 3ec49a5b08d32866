package main

import (
	"fmt"
	"os"

	"reviewhooks/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reviewhooks:", err)
		os.Exit(1)
	}
}
