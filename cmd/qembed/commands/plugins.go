package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openqembed/openqembed/pkg/solver/wasm"
)

func newPluginsCommand() *cobra.Command {
	var pluginDir string

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List installed WASM solver plugins",
		Long: `Scan a plugin directory for solver plugin manifests and list what
is installed. Each plugin lives in its own subdirectory with a
manifest.yaml next to its module, or as a standalone <name>.yaml.`,
		Example: `  qembed plugins
  qembed plugins --dir /opt/qembed/plugins`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := wasm.NewRegistry()
			if err := registry.Discover(pluginDir); err != nil {
				return err
			}

			list := registry.List()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}

			if len(list) == 0 {
				fmt.Printf("No plugins found in %s\n", pluginDir)
				return nil
			}
			for _, manifest := range list {
				verified := ""
				if manifest.Checksum != "" {
					verified = " [checksummed]"
				}
				fmt.Printf("%s@%s%s\n", manifest.Name, manifest.Version, verified)
				if manifest.Description != "" {
					fmt.Printf("    %s\n", manifest.Description)
				}
				fmt.Printf("    module: %s  methods: %v\n", manifest.ModulePath, manifest.Methods)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pluginDir, "dir", "plugins", "plugin directory to scan")

	return cmd
}
