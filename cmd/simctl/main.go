// simctl drives simulation jobs from the command line.
package main

import (
	"fmt"
	"os"

	"simgateway/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
