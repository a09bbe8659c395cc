package main

import (
	"fmt"
	"os"

	"github.com/nextrouter/nextrouter/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nextrouter: %v\n", err)
		os.Exit(1)
	}
}
