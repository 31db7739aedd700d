package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sessionlog-ai/sessionlog/internal/config"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting sessionlog configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths",
	RunE:  runDebugPaths,
}

func init() {
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	// Redact keys before printing
	for name, p := range appConfig.Provider {
		if p.APIKey != "" {
			p.APIKey = "***"
			appConfig.Provider[name] = p
		}
	}

	data, err := json.MarshalIndent(appConfig, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()

	fmt.Printf("Data:     %s\n", paths.Data)
	fmt.Printf("Config:   %s\n", paths.Config)
	fmt.Printf("Cache:    %s\n", paths.Cache)
	fmt.Printf("State:    %s\n", paths.State)
	fmt.Printf("Database: %s\n", paths.DatabasePath())
	fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
	return nil
}
