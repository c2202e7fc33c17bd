package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spoolworks/tally/internal/output"
	"github.com/spoolworks/tally/internal/syncconfig"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or change global settings",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Effective values: env overrides layered over the config file.
		fmt.Printf("sync.url           %s\n", syncconfig.GetServerURL())
		fmt.Printf("sync.poll_interval %s\n", syncconfig.GetPollInterval())
		fmt.Printf("sync.max_attempts  %d\n", syncconfig.GetMaxAttempts())
		fmt.Printf("sync.auto.enabled  %t\n", syncconfig.GetAutoFlushEnabled())
		fmt.Printf("sync.auto.debounce %s\n", syncconfig.GetAutoFlushDebounce())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Long: `Supported keys:
  sync.url            Sync server base URL
  sync.poll_interval  Connectivity probe cadence (duration, e.g. 10s)
  sync.max_attempts   Transient retry budget per entry
  sync.auto.enabled   Auto-flush after mutations (true/false)
  sync.auto.debounce  Auto-flush settle window (duration)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		key, value := args[0], args[1]
		switch key {
		case "sync.url":
			cfg.Sync.URL = value
		case "sync.poll_interval":
			if _, err := time.ParseDuration(value); err != nil {
				output.Error("invalid duration %q", value)
				return err
			}
			cfg.Sync.PollInterval = value
		case "sync.max_attempts":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				output.Error("invalid attempt count %q", value)
				return fmt.Errorf("invalid max_attempts")
			}
			cfg.Sync.MaxAttempts = &n
		case "sync.auto.enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				output.Error("invalid bool %q", value)
				return err
			}
			cfg.Sync.Auto.Enabled = &b
		case "sync.auto.debounce":
			if _, err := time.ParseDuration(value); err != nil {
				output.Error("invalid duration %q", value)
				return err
			}
			cfg.Sync.Auto.Debounce = value
		default:
			output.Error("unknown key %q", key)
			return fmt.Errorf("unknown config key")
		}

		if err := syncconfig.SaveConfig(cfg); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
}
