package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/halcyonlabs/vigil/internal/agent"
	"github.com/halcyonlabs/vigil/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "vigil - autonomous conversation agent",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent (observers + decision loop + executor)",
	RunE:  runAgent,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vigil configuration status",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vigil version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vigil", version)
	},
}

var configFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to config file")
	rootCmd.AddCommand(runCmd, initCmd, statusCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := agent.New(cfg)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	return a.Run(context.Background())
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configFlag
	if path == "" {
		path = config.ConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Created config: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and enable platforms\n", path)
	fmt.Println("  2. Or set VIGIL_API_KEY environment variable")
	fmt.Println("  3. Run 'vigil run' to start the agent")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	path := configFlag
	if path == "" {
		path = config.ConfigPath()
	}
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Platforms.Telegram.Enabled)
	fmt.Printf("Matrix: enabled=%v\n", cfg.Platforms.Matrix.Enabled)
	fmt.Printf("Farcaster: enabled=%v\n", cfg.Platforms.Farcaster.Enabled)
	if cfg.Store.DBPath != "" {
		fmt.Printf("Archive: %s\n", cfg.Store.DBPath)
	} else {
		fmt.Println("Archive: disabled")
	}
	if cfg.Status.Enabled {
		fmt.Printf("Status server: %s:%d\n", cfg.Status.Host, cfg.Status.Port)
	} else {
		fmt.Println("Status server: disabled")
	}
	return nil
}
