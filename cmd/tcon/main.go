// Package main is the entry point for the tcon CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tcon:", err)
		os.Exit(1)
	}
}
