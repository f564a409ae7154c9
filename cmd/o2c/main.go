// Command o2c runs and talks to the order-to-cash orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/example/o2c-lite/cmd/o2c/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
