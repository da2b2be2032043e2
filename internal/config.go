package internal

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/lumenworks/lumen/internal/cdn"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/image"
	"github.com/lumenworks/lumen/internal/ingest"
	"github.com/lumenworks/lumen/internal/janitor"
	"github.com/lumenworks/lumen/internal/transcode"
)

// LumenConfig is the user config supplied by file or environment,
// composed from the per-component sections.
type LumenConfig struct {
	Database  database.DatabaseConfig `yaml:"database" env-required:"true"`
	Ingest    ingest.Config           `yaml:"ingest" env-required:"true"`
	Image     image.Config            `yaml:"image"`
	Transcode transcode.Config        `yaml:"transcode"`
	CDN       cdn.Config              `yaml:"cdn"`
	Janitor   janitor.Config          `yaml:"janitor"`

	ProgressSessionTTLMinutes int `yaml:"progress_session_ttl_minutes" env:"PROGRESS_SESSION_TTL_MINUTES" env-default:"5"`
}

// LoadFromFile populates the config from the YAML file at the path
// provided, with environment variables taking precedence over file values.
func (config *LumenConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	return nil
}

// LoadFromEnv populates the config purely from environment variables, for
// deployments which carry no config file.
func (config *LumenConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return nil
}
