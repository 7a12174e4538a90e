package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vfrnav/vfrnav/pkg/config"
	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/schema"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vfrnav",
	Short: "vfrnav - EFB bridge companion",
	Long: `vfrnav runs the desktop side of the EFB bridge.

Panels inside the simulator connect over WebSocket and exchange vfrNav
frames: settings, plane records, positions, facilities and weather.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger.Init(logger.Options{Level: level, JSON: cfg.Logging.JSON})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, schemaCmd, consoleCmd)
}

// loadSchemas returns the built-in table with YAML overrides from the
// configured schema directory applied.
func loadSchemas() map[protocol.MessageID]*schema.Schema {
	if _, err := os.Stat(cfg.Schemas.Dir); errors.Is(err, os.ErrNotExist) {
		return protocol.Schemas()
	}
	reg := schema.NewRegistry()
	n, errs := reg.Load(cfg.Schemas.Dir)
	for _, err := range errs {
		logger.WarnCF("schema", "Schema file skipped", map[string]interface{}{
			"error": err.Error(),
		})
	}
	table, ignored := protocol.SchemasWith(reg)
	for _, name := range ignored {
		logger.WarnCF("schema", "Schema does not name a message", map[string]interface{}{
			"name": name,
		})
	}
	logger.DebugCF("schema", "Schemas loaded", map[string]interface{}{
		"dir":       cfg.Schemas.Dir,
		"overrides": n - len(ignored),
	})
	return table
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
