// server.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"askh/internal/config"
	"askh/internal/llm"
	"askh/internal/logging"
	"askh/internal/websocket"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if model != "" {
		cfg.Model.Name = model
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	if err := logging.EnableFileLogging(cfg.LogDir, logging.ParseLevel(cfg.Log.Level)); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
	}
	defer logging.Close()

	client, err := llm.NewOllamaClient(cfg.Model.Host, cfg.Model.Name, cfg.Model.Temperature)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := NewApp(cfg, client)
	app.startup(ctx)

	if err := app.CheckModel(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	generated := cfg.Server.AuthKey == ""
	authKey, err := cfg.EnsureAuthKey()
	if err != nil {
		return err
	}
	wsServer := websocket.NewServer(app, cfg.Server.Addr, authKey)
	wsServer.AllowOrigins(cfg.Server.AllowedOrigins...)
	app.setBroadcaster(wsServer)

	port, err := wsServer.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start websocket server: %w", err)
	}
	fmt.Printf("askh listening on ws://127.0.0.1:%d/ws (model %s)\n", port, cfg.Model.Name)
	if generated {
		fmt.Printf("auth key in %s\n", cfg.AuthKeyPath())
	}

	<-ctx.Done()

	fmt.Println("Shutting down...")
	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	wsServer.Stop(stopCtx)
	app.shutdown(stopCtx)
	return nil
}
