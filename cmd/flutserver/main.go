package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flutserver/internal/config"
	"flutserver/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "flutserver",
	Short: "Pixelflut canvas server with WebSocket image and stats streams",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TCP pixel listener and HTTP WebSocket listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		srv, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("build server: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		log.Printf("[server] tcp=%s http=%s canvases=%d", cfg.TCP.Listen, cfg.HTTP.Listen, len(cfg.Canvases))
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "flutserver.yaml", "path to the server's YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
