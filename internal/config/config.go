// Package config loads service configuration from an optional TOML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full service configuration.
type Config struct {
	Gemini   Gemini   `toml:"gemini"`
	Pipeline Pipeline `toml:"pipeline"`
	Server   Server   `toml:"server"`
	Metrics  Metrics  `toml:"metrics"`
}

// Gemini configures the oracle client.
type Gemini struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	// SSMParam names an SSM parameter holding the API key, read when APIKey is empty.
	SSMParam string `toml:"ssm_param"`
}

// Pipeline configures runs.
type Pipeline struct {
	WorkRoot          string `toml:"work_root"`
	Mode              string `toml:"mode"`
	RetainDiagnostics bool   `toml:"retain_diagnostics"`
	FfmpegBinary      string `toml:"ffmpeg_binary"`
}

// Server configures the HTTP ingress.
type Server struct {
	Port int `toml:"port"`
	// AllowedOrigins enables CORS for browser uploads from these origins.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Metrics configures EMF output.
type Metrics struct {
	Namespace string `toml:"namespace"`
	Enabled   bool   `toml:"enabled"`
}

const (
	defaultModel     = "gemini-2.5-flash"
	defaultMode      = "independent"
	defaultFfmpeg    = "ffmpeg"
	defaultPort      = 8080
	defaultNamespace = "Siren"
)

// Default returns the configuration used when no file or env var says otherwise.
func Default() Config {
	return Config{
		Gemini: Gemini{Model: defaultModel},
		Pipeline: Pipeline{
			WorkRoot:     os.TempDir(),
			Mode:         defaultMode,
			FfmpegBinary: defaultFfmpeg,
		},
		Server:  Server{Port: defaultPort},
		Metrics: Metrics{Namespace: defaultNamespace, Enabled: true},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result. A named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with any set environment variables.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
		c.Gemini.APIKey = v
	}
	if v, ok := os.LookupEnv("GEMINI_MODEL"); ok {
		c.Gemini.Model = v
	}
	if v, ok := os.LookupEnv("SSM_API_KEY_PARAM"); ok {
		c.Gemini.SSMParam = v
	}
	if v, ok := os.LookupEnv("SIREN_WORK_ROOT"); ok {
		c.Pipeline.WorkRoot = v
	}
	if v, ok := os.LookupEnv("SIREN_MODE"); ok {
		c.Pipeline.Mode = v
	}
	if v, ok := os.LookupEnv("SIREN_RETAIN_DIAGNOSTICS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SIREN_RETAIN_DIAGNOSTICS: %w", err)
		}
		c.Pipeline.RetainDiagnostics = b
	}
	if v, ok := os.LookupEnv("SIREN_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

// splitList parses a comma-separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (c *Config) normalize() {
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	c.Gemini.Model = strings.TrimSpace(c.Gemini.Model)
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultModel
	}
	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))
	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = defaultMode
	}
	c.Pipeline.WorkRoot = strings.TrimSpace(c.Pipeline.WorkRoot)
	if c.Pipeline.WorkRoot == "" {
		c.Pipeline.WorkRoot = os.TempDir()
	}
	if strings.TrimSpace(c.Pipeline.FfmpegBinary) == "" {
		c.Pipeline.FfmpegBinary = defaultFfmpeg
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultNamespace
	}
}

// Validate ensures the configuration is usable. The API key is not checked
// here; credential resolution may still find it in SSM.
func (c *Config) Validate() error {
	switch c.Pipeline.Mode {
	case "independent", "fused":
	default:
		return fmt.Errorf("pipeline.mode must be independent or fused, got %q", c.Pipeline.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Gemini.BaseURL != "" && !strings.HasPrefix(c.Gemini.BaseURL, "http") {
		return fmt.Errorf("gemini.base_url must be an http(s) URL, got %q", c.Gemini.BaseURL)
	}
	return nil
}
