// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

// Global flags
var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "impair",
	Short: "impair - inline two-port network impairment emulator",
	Long: `impair forwards every frame received on one port out of the other and,
on the impaired direction, applies loss, duplication, delay with jitter
and a bandwidth limit.

Loss models:
  - random:          independent per-packet loss
  - Gilbert-Elliott: two-state bursty loss
  - 4-state:         Markov model with isolated and burst losses`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
