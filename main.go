// Package main is the entry point for the impair network impairment emulator.
package main

import (
	"os"

	"firestige.xyz/impair/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
