// Package config loads the castellan.yaml configuration file. Values may
// reference environment variables with ${VAR}; they are expanded before the
// YAML is parsed, so secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/castellan-ai/castellan/internal/adapters/llm"
	"github.com/castellan-ai/castellan/internal/connectors"
	"github.com/castellan-ai/castellan/internal/core/ports"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "CASTELLAN_CONFIG"
	// EnvDBPath overrides the draft-action database location.
	EnvDBPath = "CASTELLAN_DB_PATH"

	defaultConfigPath = "castellan.yaml"
	defaultDBPath     = "castellan.db"
)

// Config is the root of castellan.yaml.
type Config struct {
	Server     ServerConfig               `yaml:"server"`
	Database   DatabaseConfig             `yaml:"database"`
	LLM        LLMConfig                  `yaml:"llm"`
	Agents     AgentsConfig               `yaml:"agents"`
	Connectors map[string]ConnectorConfig `yaml:"connectors"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the reasoning engine. Mode "local" talks to Ollama,
// "remote" to any OpenAI-compatible endpoint.
type LLMConfig struct {
	Mode      string `yaml:"mode"`
	LocalURL  string `yaml:"local_url"`
	RemoteURL string `yaml:"remote_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
}

// ConnectorConfig is one named connector instance: the provider type plus
// its credentials and provider-specific settings.
type ConnectorConfig struct {
	Type              string `yaml:"type"`
	connectors.Config `yaml:",inline"`
}

type AgentsConfig struct {
	Email     EmailAgentConfig     `yaml:"email"`
	Calendar  CalendarAgentConfig  `yaml:"calendar"`
	Transport TransportAgentConfig `yaml:"transport"`
	Weather   WeatherAgentConfig   `yaml:"weather"`
	Flight    FlightAgentConfig    `yaml:"flight"`
	Trip      TripAgentConfig      `yaml:"trip"`
}

type EmailAgentConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DefaultAccount string `yaml:"default_account"`
}

type CalendarAgentConfig struct {
	Enabled        bool   `yaml:"enabled"`
	DefaultAccount string `yaml:"default_account"`
}

type TransportAgentConfig struct {
	Enabled     bool                `yaml:"enabled"`
	HomeStation string              `yaml:"home_station"`
	Modes       map[string][]string `yaml:"modes"`
}

type WeatherAgentConfig struct {
	Enabled         bool              `yaml:"enabled"`
	DefaultLocation string            `yaml:"default_location"`
	Locations       map[string]LatLng `yaml:"locations"`
}

type LatLng struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type FlightAgentConfig struct {
	Enabled        bool     `yaml:"enabled"`
	TrackedFlights []string `yaml:"tracked_flights"`
}

type TripAgentConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file exists: local Ollama,
// all agents enabled, no connectors.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Database: DatabaseConfig{Path: defaultDBPath},
		LLM: LLMConfig{
			Mode:     "local",
			LocalURL: "http://localhost:11434",
		},
		Agents: AgentsConfig{
			Email:     EmailAgentConfig{Enabled: true},
			Calendar:  CalendarAgentConfig{Enabled: true},
			Transport: TransportAgentConfig{Enabled: true},
			Weather:   WeatherAgentConfig{Enabled: true, DefaultLocation: "Washington, DC"},
			Flight:    FlightAgentConfig{Enabled: true},
			Trip:      TripAgentConfig{Enabled: true},
		},
	}
}

// Load reads the config file, expanding ${VAR} references from the
// environment first. A missing file at the default path is not an error;
// a missing file named via CASTELLAN_CONFIG is.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return applyEnvOverrides(Default()), nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return applyEnvOverrides(cfg), nil
}

func applyEnvOverrides(cfg *Config) *Config {
	if dbPath := strings.TrimSpace(os.Getenv(EnvDBPath)); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg
}

// BuildEngine constructs the reasoning engine the LLM section selects.
func BuildEngine(cfg LLMConfig) (ports.ReasoningEngine, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(cfg.LocalURL)
		}
		return llm.NewOllamaEngine(normalizeOllamaBaseURL(baseURL), cfg.Model), nil
	case "remote":
		remoteURL := strings.TrimSpace(cfg.RemoteURL)
		if remoteURL == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		return llm.NewOpenAIEngine(strings.TrimRight(remoteURL, "/"), strings.TrimSpace(cfg.APIKey), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode: %s", cfg.Mode)
	}
}

// Ollama clients want the bare host; a pasted OpenAI-compatible URL often
// carries a /v1 suffix.
func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return strings.TrimSuffix(trimmed, "/v1")
}
