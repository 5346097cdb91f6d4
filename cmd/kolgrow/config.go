package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kolgrow/kolgrow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/kolgrow/config.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Default tenant: %s\n", cfg.Tenant.DefaultID)
	fmt.Printf("  Scheduler workers: %d\n", cfg.Scheduler.Workers)
	fmt.Printf("  Gateway: %s\n", cfg.Gateway.BaseURL)
	fmt.Printf("  Scrape actor: %s\n", cfg.Scraper.BaseURL)
	fmt.Printf("  Metrics enabled: %v\n", cfg.Metrics.Enabled)

	return nil
}
