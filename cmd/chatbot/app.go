package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"chatbot/internal/build"
	"chatbot/internal/bus"
	"chatbot/internal/chatbot"
	"chatbot/internal/ci/actions"
	"chatbot/internal/ci/travis"
	"chatbot/internal/googlechat"
	"chatbot/internal/repository"
	"chatbot/internal/security"
	"chatbot/internal/store"
	"chatbot/pkg/fileutil"
	"chatbot/pkg/templates"
)

const configFileName = "chatbot.yaml"

// app holds what every command that touches state needs.
type app struct {
	config   *repository.Config
	registry *repository.Registry
	store    *store.Store
}

// resolveConfigFile returns path, or the first config found in the default
// locations when path is empty.
func resolveConfigFile(path string) (string, error) {
	if path != "" {
		return path, nil
	}

	searchPaths := fileutil.DefaultConfigPaths(configFileName)
	path = fileutil.SearchPathsOptional(searchPaths)
	if path == "" {
		fmt.Fprintf(os.Stderr, "Error: No configuration file found in default locations:\n")
		for _, p := range searchPaths {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		fmt.Fprintf(os.Stderr, "Use --config flag to specify a custom location\n")
		return "", fmt.Errorf("configuration file not found")
	}
	return path, nil
}

// loadApp loads the configuration and opens the state database.
func loadApp(configPath, databasePath string, logger *slog.Logger) (*app, error) {
	logger.Info("Loading configuration", "config", configPath)

	if err := security.ValidateSecurePermissions(configPath); err != nil {
		logger.Warn("Insecure configuration file", "config", configPath, "error", err)
	}

	config, repositories, err := repository.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if config.CI.Token == "" {
		config.CI.Token = os.Getenv("CHATBOT_CI_TOKEN")
	}

	logger.Info("Configuration validated successfully", "count", len(repositories))
	if len(repositories) == 0 {
		logger.Warn("No repositories configured in config file", "config", configPath)
	}

	dbFile, err := securePath(databasePath)
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	if err := security.CreateSecureDir(filepath.Dir(dbFile), security.PermDirectory); err != nil {
		return nil, err
	}

	logger.Info("Opening state database", "db", dbFile)
	st, err := store.NewStore(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := os.Chmod(dbFile, security.PermDBFile); err != nil {
		logger.Warn("Failed to restrict database permissions", "db", dbFile, "error", err)
	}

	return &app{
		config:   config,
		registry: repository.NewRegistry(repositories),
		store:    st,
	}, nil
}

// newBot creates the CI and chat adapters and wires them into a bot.
func (a *app) newBot(ctx context.Context, logger *slog.Logger) (*chatbot.Bot, error) {
	ci, err := newCI(ctx, a.config.CI)
	if err != nil {
		return nil, err
	}

	if identity := a.config.Chat.AgeIdentityFile; identity != "" && !fileutil.FileExists(identity) {
		return nil, fmt.Errorf("age identity file not found: %s", identity)
	}

	var credentials []byte
	if a.config.Chat.CredentialsFile != "" {
		credentials, err = googlechat.LoadCredentials(a.config.Chat.CredentialsFile, a.config.Chat.AgeIdentityFile, logger)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("No chat credentials file configured, using application default credentials")
	}

	sender, err := googlechat.NewSender(ctx, googlechat.Options{
		Credentials:       credentials,
		BotName:           a.config.Chat.BotName,
		MessagesPerSecond: a.config.Chat.MessagesPerSecond,
		Endpoint:          a.config.Chat.Endpoint,
	}, logger)
	if err != nil {
		return nil, err
	}

	delivery := a.config.Delivery
	return chatbot.New(a.registry, ci, sender, a.store, templates.NewRenderer(a.config.Chat.TemplatesDir), chatbot.Options{
		Concurrency: a.config.Check.Concurrency,
		Retry: bus.RetryConfig{
			MaxAttempts: delivery.MaxAttempts,
			BaseDelay:   delivery.BaseDelay,
			MaxDelay:    delivery.MaxDelay,
			Multiplier:  2.0,
			Jitter:      true,
		},
		BotName: a.config.Chat.BotName,
	}, logger), nil
}

func newCI(ctx context.Context, config repository.CIConfig) (build.CI, error) {
	switch config.Provider {
	case repository.ProviderGitHub:
		client, err := actions.NewClient(ctx, config.URL, config.Token)
		if err != nil {
			return nil, err
		}
		return client, nil
	case repository.ProviderTravis:
		return travis.NewClient(config.URL, config.Token, nil), nil
	default:
		return nil, fmt.Errorf("unsupported CI provider '%s'", config.Provider)
	}
}

func (a *app) Close() error {
	return a.store.Close()
}

func securePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return security.SanitizePath(abs)
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath, level string) (*slog.Logger, *os.File, error) {
	path, err := securePath(logPath)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log path: %w", err)
	}

	// Create log directory if needed
	if err := security.CreateSecureDir(filepath.Dir(path), security.PermDirectory); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open log file with secure permissions
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: parseLevel(level),
	})

	return slog.New(handler), file, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
