// Package main is the entry point for the pktedit packet editor.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/pktedit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
