package repository

import (
	"strings"
	"time"
)

// ID identifies a watched repository by its "owner/name" slug.
type ID string

// OrganizationID identifies the organization that owns a repository.
type OrganizationID string

func (id ID) String() string { return string(id) }

// Owner returns the part of the slug before the slash.
func (id ID) Owner() string {
	owner, _, _ := strings.Cut(string(id), "/")
	return owner
}

// Name returns the part of the slug after the slash.
func (id ID) Name() string {
	_, name, _ := strings.Cut(string(id), "/")
	return name
}

// Repository represents a validated repository registration
type Repository struct {
	ID           ID
	Organization OrganizationID
	ChatSpace    string
}

// RepositoryConfig represents the YAML configuration for a repository
type RepositoryConfig struct {
	Organization string `yaml:"organization"`
	ChatSpace    string `yaml:"chat_space"`
}

// CIConfig selects and authenticates the CI status backend.
type CIConfig struct {
	Provider string `yaml:"provider"`
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
}

// ChatConfig configures the Google Chat sender.
type ChatConfig struct {
	CredentialsFile   string  `yaml:"credentials_file"`
	AgeIdentityFile   string  `yaml:"age_identity_file"`
	BotName           string  `yaml:"bot_name"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Endpoint          string  `yaml:"endpoint"`
	TemplatesDir      string  `yaml:"templates_dir"`
}

// DeliveryConfig bounds redelivery of events to failing handlers.
type DeliveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CheckConfig tunes the repository check batch.
type CheckConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Interval    time.Duration `yaml:"interval"`
}

// Config represents the root configuration structure
type Config struct {
	CI           CIConfig                    `yaml:"ci"`
	Chat         ChatConfig                  `yaml:"chat"`
	Delivery     DeliveryConfig              `yaml:"delivery"`
	Check        CheckConfig                 `yaml:"check"`
	Repositories map[string]RepositoryConfig `yaml:"repositories"`
}
