package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gemini-relay/internal/adapter"
	"gemini-relay/internal/config"
	"gemini-relay/internal/credential"
	"gemini-relay/internal/gateway"
	"gemini-relay/internal/httpserver"
	"gemini-relay/internal/logging"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	args := os.Args[1:]

	var err error
	if len(args) > 0 && args[0] == "probe" {
		err = runProbe(args[1:], os.Stdout, logger)
	} else {
		err = runRelay(args, logger)
	}

	if err == nil {
		return
	}

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	logger.Error("command failed", "error", err)
	os.Exit(1)
}

func runRelay(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("gemini-relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("c", "", "path to yaml config file (optional)")
	envPath := fs.String("env", ".env", "path to dotenv file")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("open log output: %w", err)
	}
	defer closer.Close()

	detector, err := credential.NewDetector(cfg.CredentialCheck)
	if err != nil {
		return fmt.Errorf("credential check: %w", err)
	}

	service := gateway.NewService(cfg, adapter.NewGenerativeLanguageAdapter(), detector, logger)
	server := httpserver.New(cfg.Listen, logger, service, httpserver.Options{CORS: cfg.CORSEnabled()})

	errCh := make(chan error, 1)
	go func() {
		logger.Info(
			"relay starting",
			"listen", cfg.Listen,
			"path", httpserver.GeneratePath,
			"variant", cfg.Variant,
			"model", cfg.Model,
			"endpoint", cfg.ResolvedEndpoint(),
		)
		if cfg.Variant == config.VariantLocal {
			logger.Info("set GEN_API_KEY, GEN_MODEL or GEN_ENDPOINT in .env to match your provider")
		}
		errCh <- server.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited unexpectedly: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("relay stopped")
	return nil
}
