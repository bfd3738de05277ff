package main

import (
	"fmt"
	"os"

	"stopsearch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stopsearch: %v\n", err)
		os.Exit(1)
	}
}
