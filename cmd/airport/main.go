package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Napageneral/airport/internal/config"
	"github.com/Napageneral/airport/internal/logger"
	"github.com/Napageneral/airport/internal/scenario"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "airport",
		Short:        "Airport - runway, gate and refuel contention simulator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./airport.yaml or the app dir)")
	rootCmd.SetOut(out)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := map[string]interface{}{
				"version": version,
				"go":      runtime.Version(),
			}
			return printJSON(out, output)
		},
	}

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "Print application paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			output := map[string]interface{}{
				"app_dir":         cfg.AppDir,
				"history_db_path": cfg.History.DBPath,
				"config_path":     cfg.ConfigPath,
				"log_file":        cfg.Log.File,
			}
			return printJSON(out, output)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printJSON(out, cfg)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(newRunCmd(out, &configPath))
	rootCmd.AddCommand(newHistoryCmd(out, &configPath))
	rootCmd.AddCommand(newScenariosCmd(out))

	return rootCmd
}

func newScenariosCmd(out io.Writer) *cobra.Command {
	var dir string

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List or export fleet scenarios",
	}
	scenariosCmd.PersistentFlags().StringVar(&dir, "dir", "", "override directory of *.scenario.yaml files")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := scenario.NewLoader(dir).List()
			if err != nil {
				return err
			}
			type entry struct {
				ID     string `json:"id"`
				Name   string `json:"name"`
				Gates  int    `json:"gates"`
				Planes int    `json:"planes"`
			}
			entries := make([]entry, 0, len(all))
			for _, s := range all {
				entries = append(entries, entry{ID: s.ID, Name: s.Name, Gates: s.Gates, Planes: len(s.Planes)})
			}
			return printJSON(out, entries)
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Write the built-in scenarios to a directory for editing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := scenario.NewLoader("").Export(args[0])
			if err != nil {
				return err
			}
			return printJSON(out, map[string]interface{}{"dir": args[0], "exported": n})
		},
	}

	scenariosCmd.AddCommand(listCmd, exportCmd)
	return scenariosCmd
}

func printJSON(out io.Writer, data interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func printYAML(out io.Writer, data interface{}) error {
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}
