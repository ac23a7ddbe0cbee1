// cmd/ckd-meal/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/gofiber/fiber/v2/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mcp-ckd-meal/internal/config"
	"mcp-ckd-meal/internal/server"
)

const (
	serverName = "ckd-meal"
	version    = "1.0.0"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "ckd-meal",
	Short:         "Meal recognition and kidney-diet ledger MCP server",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcp-ckd-meal version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	flags := serveCmd.Flags()
	flags.String("host", "0.0.0.0", "Host address")
	flags.String("address", "", "Address (alias for host)")
	flags.Int("port", 8011, "Port for HTTP transport")
	flags.String("db-path", "/data/ckd-meal.db", "Meal ledger database path")
	flags.String("reference-db", "/data/dishes.db", "Nutrition reference database path")
	flags.String("classifier", "http", "Classifier backend: http, rekognition or static")
	flags.String("log-level", "info", "Log level: trace, debug, info, warn or error")

	bind := map[string]string{
		"server.host":        "host",
		"server.port":        "port",
		"ledger.db_path":     "db-path",
		"reference.db_path":  "reference-db",
		"classifier.backend": "classifier",
		"log.level":          "log-level",
	}
	for key, flag := range bind {
		cobra.CheckErr(viper.BindPFlag(key, flags.Lookup(flag)))
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func serve(cmd *cobra.Command) error {
	// Use address if provided, otherwise use host
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		viper.Set("server.host", addr)
	}

	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	log.SetLevel(level)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.NewCKDMealServer(ctx, cfg, protocol.Implementation{
		Name:    serverName,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-errCh:
		log.Errorf("Server error: %v", err)
	}

	// Graceful shutdown
	log.Info("Shutting down...")
	cancel()
	if err := srv.Stop(); err != nil {
		log.Errorf("Error during shutdown: %v", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
