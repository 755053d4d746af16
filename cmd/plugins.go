package cmd

import (
	"encoding/json"

	"github.com/CodeMonkeyCybersecurity/satori/cmd/internal/display"
	"github.com/CodeMonkeyCybersecurity/satori/internal/credentials"
	"github.com/CodeMonkeyCybersecurity/satori/internal/output"
	"github.com/CodeMonkeyCybersecurity/satori/internal/plugins"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List discovery plugins and whether current credentials satisfy them",
	Long: `List every registered plugin in dispatch order with its phase and
priority. A plugin is ready when the credentials from flags, environment
and config file are enough for it to run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := plugins.NewDefaultRegistry(cfg, log)
		if err != nil {
			return err
		}
		infos := registry.Describe(credentials.FromConfig(cfg))

		out := cmd.OutOrStdout()
		switch cfg.Output.Format {
		case output.FormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		case output.FormatYAML:
			return yaml.NewEncoder(out).Encode(infos)
		default:
			display.PrintPlugins(out, infos)
			return nil
		}
	},
}
