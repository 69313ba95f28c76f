package repository

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatbot/internal/security"
)

const (
	ProviderTravis = "travis"
	ProviderGitHub = "github"

	DefaultTravisURL         = "https://api.travis-ci.com"
	DefaultGitHubURL         = "https://api.github.com/"
	DefaultBotName           = "Spine ChatBot"
	DefaultMessagesPerSecond = 1.0
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultConcurrency       = 4
)

// LoadConfig loads and validates the configuration from a YAML file
func LoadConfig(configPath string) (*Config, map[ID]*Repository, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig validates raw YAML and applies defaults.
func ParseConfig(data []byte) (*Config, map[ID]*Repository, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Empty YAML files leave the map nil
	if config.Repositories == nil {
		config.Repositories = make(map[string]RepositoryConfig)
	}

	if errors := ValidateConfig(&config); len(errors) > 0 {
		return nil, nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(errors, "\n"))
	}
	applyDefaults(&config)

	repositories := make(map[ID]*Repository)
	for slug, repositoryConfig := range config.Repositories {
		errors := ValidateRepositoryConfig(slug, repositoryConfig)
		if len(errors) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for repository '%s':\n%s",
				slug, strings.Join(errors, "\n"))
		}

		id := ID(slug)
		organization := repositoryConfig.Organization
		if organization == "" {
			organization = id.Owner()
		}

		repositories[id] = &Repository{
			ID:           id,
			Organization: OrganizationID(organization),
			ChatSpace:    repositoryConfig.ChatSpace,
		}
	}

	return &config, repositories, nil
}

// ValidateConfig validates the non-repository sections
func ValidateConfig(config *Config) []string {
	var errors []string

	switch config.CI.Provider {
	case "", ProviderTravis, ProviderGitHub:
	default:
		errors = append(errors, fmt.Sprintf("  - ci.provider must be '%s' or '%s', got '%s'",
			ProviderTravis, ProviderGitHub, config.CI.Provider))
	}
	if config.CI.URL != "" && !strings.HasPrefix(config.CI.URL, "http://") && !strings.HasPrefix(config.CI.URL, "https://") {
		errors = append(errors, fmt.Sprintf("  - ci.url must be an http(s) URL, got '%s'", config.CI.URL))
	}

	if config.Chat.MessagesPerSecond < 0 {
		errors = append(errors, fmt.Sprintf("  - chat.messages_per_second must be positive, got %v", config.Chat.MessagesPerSecond))
	}
	if config.Chat.AgeIdentityFile != "" && config.Chat.CredentialsFile == "" {
		errors = append(errors, "  - chat.age_identity_file is set but chat.credentials_file is missing")
	}

	if config.Delivery.MaxAttempts < 0 {
		errors = append(errors, fmt.Sprintf("  - delivery.max_attempts must be a positive integer, got %d", config.Delivery.MaxAttempts))
	}
	if config.Delivery.BaseDelay < 0 || config.Delivery.MaxDelay < 0 {
		errors = append(errors, "  - delivery delays cannot be negative")
	}
	if config.Delivery.MaxDelay > 0 && config.Delivery.BaseDelay > config.Delivery.MaxDelay {
		errors = append(errors, fmt.Sprintf("  - delivery.base_delay (%s) exceeds delivery.max_delay (%s)",
			config.Delivery.BaseDelay, config.Delivery.MaxDelay))
	}

	if config.Check.Concurrency < 0 {
		errors = append(errors, fmt.Sprintf("  - check.concurrency must be a positive integer, got %d", config.Check.Concurrency))
	}
	if config.Check.Interval < 0 {
		errors = append(errors, fmt.Sprintf("  - check.interval cannot be negative, got %s", config.Check.Interval))
	}

	return errors
}

// ValidateRepositoryConfig validates a single repository registration
func ValidateRepositoryConfig(slug string, config RepositoryConfig) []string {
	var errors []string

	if err := security.ValidateRepositorySlug(slug); err != nil {
		errors = append(errors, fmt.Sprintf("  - Repository '%s': %v", slug, err))
	}

	if config.ChatSpace == "" {
		errors = append(errors, fmt.Sprintf("  - Repository '%s': missing required 'chat_space' field", slug))
	} else if err := security.ValidateSpaceName(config.ChatSpace); err != nil {
		errors = append(errors, fmt.Sprintf("  - Repository '%s': %v", slug, err))
	}

	if strings.ContainsAny(config.Organization, " /") {
		errors = append(errors, fmt.Sprintf("  - Repository '%s': organization cannot contain spaces or '/', got '%s'",
			slug, config.Organization))
	}

	return errors
}

func applyDefaults(config *Config) {
	if config.CI.Provider == "" {
		config.CI.Provider = ProviderTravis
	}
	if config.CI.URL == "" {
		if config.CI.Provider == ProviderGitHub {
			config.CI.URL = DefaultGitHubURL
		} else {
			config.CI.URL = DefaultTravisURL
		}
	}

	if config.Chat.BotName == "" {
		config.Chat.BotName = DefaultBotName
	}
	if config.Chat.MessagesPerSecond == 0 {
		config.Chat.MessagesPerSecond = DefaultMessagesPerSecond
	}

	if config.Delivery.MaxAttempts == 0 {
		config.Delivery.MaxAttempts = DefaultMaxAttempts
	}
	if config.Delivery.BaseDelay == 0 {
		config.Delivery.BaseDelay = DefaultBaseDelay
	}
	if config.Delivery.MaxDelay == 0 {
		config.Delivery.MaxDelay = DefaultMaxDelay
	}

	if config.Check.Concurrency == 0 {
		config.Check.Concurrency = DefaultConcurrency
	}
}
