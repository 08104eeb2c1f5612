package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var sensitiveKeys = []string{"http.admin_api_key", "storage.metadata.postgres_url"}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := viper.AllSettings()
			for _, key := range sensitiveKeys {
				redactKey(settings, strings.Split(key, "."))
			}
			out, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func redactKey(settings map[string]any, path []string) {
	for len(path) > 1 {
		next, ok := settings[path[0]].(map[string]any)
		if !ok {
			return
		}
		settings, path = next, path[1:]
	}
	if v, ok := settings[path[0]].(string); ok && v != "" {
		settings[path[0]] = "<redacted>"
	}
}
