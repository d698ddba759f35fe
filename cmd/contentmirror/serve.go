package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/contentmirror/internal/config"
	"github.com/agentworkforce/contentmirror/internal/httpapi"
	"github.com/agentworkforce/contentmirror/internal/telemetry"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for Directus webhooks and sync on each call",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", envOrDefault("CONTENTMIRROR_ADDR", ":8080"), "listen address")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", os.Getenv("CONTENTMIRROR_WATCH_CONFIG") != "false", "reload the config file when it changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := telemetry.Init(ctx, "contentmirror", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	hub := httpapi.NewHub(intEnv("CONTENTMIRROR_EVENT_BUFFER", 0))
	a, err := newApp(cfg, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveWatch {
		watcher, err := config.NewWatcher(configPath, a.reload, log.Default())
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	server := httpapi.NewServerWithConfig(a.syncer, httpapi.ServerConfig{
		AdminJWTSecret:  os.Getenv("CONTENTMIRROR_ADMIN_JWT_SECRET"),
		RateLimitMax:    intEnv("CONTENTMIRROR_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("CONTENTMIRROR_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("CONTENTMIRROR_MAX_BODY_BYTES", 0),
		Events:          hub,
		Logger:          log.Default(),
	})
	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("contentmirror listening on %s (webhook %s)", serveAddr, cfg.UpdateRoute())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Printf("contentmirror stopping: %v", ctx.Err())
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), durationEnv("CONTENTMIRROR_SHUTDOWN_TIMEOUT", 30*time.Second))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
