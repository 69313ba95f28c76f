package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatbot/internal/chatbot"
	"chatbot/internal/server"
)

const shutdownTimeout = 30 * time.Second

var (
	configFile    string
	logFile       string
	logLevel      string
	dbPath        string
	host          string
	port          int
	testMode      bool
	checkInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat bot server",
	Long: `Start the HTTP server that receives Google Chat events and cron triggers.

POST /cron/repositories/check runs one check of every registered repository.
With --check-interval the server also checks repositories on its own.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("CHATBOT_CONFIG_FILE", ""), "Path to chatbot.yaml configuration file")
	serveCmd.Flags().StringVar(&logFile, "log", getEnvOrDefault("CHATBOT_LOG_FILE", "./chatbot.log"), "Path to log file")
	serveCmd.Flags().StringVar(&logLevel, "log-level", getEnvOrDefault("CHATBOT_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&dbPath, "db", getEnvOrDefault("CHATBOT_DB_PATH", "./chatbot.db"), "Path to SQLite state database")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("CHATBOT_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("CHATBOT_PORT", 8080), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("CHATBOT_TEST_MODE") == "1", "Enable test mode (no rate limiting)")
	serveCmd.Flags().DurationVar(&checkInterval, "check-interval", 0, "Check repositories periodically (0 disables; overrides check.interval)")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigFile(configFile)
	if err != nil {
		return err
	}

	logger, logFileHandle, err := setupLogging(logFile, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()

	logger.Info("Starting chatbot", "version", version)

	application, err := loadApp(path, dbPath, logger)
	if err != nil {
		logger.Error("Failed to start", "error", err)
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := application.newBot(ctx, logger)
	if err != nil {
		logger.Error("Failed to create bot", "error", err)
		return err
	}

	interval := application.config.Check.Interval
	if cmd.Flags().Changed("check-interval") {
		interval = checkInterval
	}
	if interval > 0 {
		scheduler := chatbot.NewScheduler(bot, interval, logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	srv := server.NewServer(application.registry, bot, application.store, logger, testMode)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(host, port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
