package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/impair/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the effective settings",
	Long: `Load the configuration the same way "run" does (defaults, config file,
IMPAIR_* environment, flags) and print the result as YAML, without
opening any port.

Examples:
  impair validate -c impair.yml
  impair validate -c impair.yml -r 5 -g 40`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "INVALID: %v\n", err)
			return err
		}
		return printConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	config.AddFlags(validateCmd.Flags())
}

func printConfig(w io.Writer, cfg *config.GlobalConfig) error {
	data, err := yaml.Marshal(map[string]*config.GlobalConfig{"impair": cfg})
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	idx := cfg.PortIndexes()
	fmt.Fprintf(w, "# VALID: port A = %s, port B = %s, loss = %s\n",
		cfg.Ports[idx[0]].Name, cfg.Ports[idx[1]].Name, cfg.LossParams().Kind)
	_, err = w.Write(data)
	return err
}
