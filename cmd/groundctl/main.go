// Command groundctl runs the essay pipeline offline and issues dev tokens.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(defaultGenerator).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
