package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration and its validation result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()

		redacted := cfg.Redacted()
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return eris.Wrap(err, "config: marshal")
		}
		_, _ = out.Write(data)

		issues := cfg.Validate()
		if len(issues) == 0 {
			_, _ = fmt.Fprintln(out, "\n# configuration is valid")
			return nil
		}
		_, _ = fmt.Fprintln(out, "\n# configuration is invalid, app locked:")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(out, "#  - %s\n", issue)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
