package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MaxConcurrentDownloads int              `yaml:"max_concurrent_downloads"`
	Segments               int              `yaml:"segments"`
	MaxRetries             int              `yaml:"max_retries"`
	RetryBackoff           time.Duration    `yaml:"retry_backoff"`
	EventBuffer            int              `yaml:"event_buffer"`
	ProgressBuffer         int              `yaml:"progress_buffer"`
	SaveDir                string           `yaml:"save_dir"`
	S3Profile              string           `yaml:"s3_profile"`
	HTTP                   HTTPClientConfig `yaml:"http"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: 5,
		Segments:               4,
		MaxRetries:             3,
		RetryBackoff:           time.Second,
		EventBuffer:            100,
		ProgressBuffer:         100,
		SaveDir:                ".",
		S3Profile:              "default",
		HTTP: HTTPClientConfig{
			Timeout:   30 * time.Second,
			KATimeout: 90 * time.Second,
			UserAgent: ToolUserAgent,
			Headers:   make(map[string]string),
		},
	}
}

// LoadConfig overlays the YAML file at path on DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max_concurrent_downloads must be at least 1, got %d", c.MaxConcurrentDownloads)
	}
	if c.Segments < 1 {
		return fmt.Errorf("segments must be at least 1, got %d", c.Segments)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must not be negative")
	}
	return nil
}
