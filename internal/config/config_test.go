package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-ai/castellan/internal/adapters/llm"
)

const sampleYAML = `
server:
  host: 127.0.0.1
  port: 9000
  allowed_origins:
    - http://localhost:3000
database:
  path: /tmp/castellan-test.db
llm:
  mode: remote
  remote_url: https://api.openai.com/v1
  api_key: ${CASTELLAN_TEST_KEY}
  model: gpt-4o-mini
agents:
  transport:
    home_station: shady grove
    modes:
      wmata: [metro, bus]
  weather:
    default_location: Seattle, WA
    locations:
      seattle, wa:
        latitude: 47.6062
        longitude: -122.3321
  flight:
    tracked_flights: [UA789]
  trip:
    enabled: false
connectors:
  gmail-work:
    type: gmail
    account: work
    token: ${CASTELLAN_TEST_KEY}
  wmata:
    type: wmata
    api_key: demo
    extra:
      home_station: B08
`

func TestParse_ExpandsEnvAndOverridesDefaults(t *testing.T) {
	t.Setenv("CASTELLAN_TEST_KEY", "sk-secret")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/tmp/castellan-test.db", cfg.Database.Path)

	assert.Equal(t, "remote", cfg.LLM.Mode)
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)

	assert.Equal(t, "shady grove", cfg.Agents.Transport.HomeStation)
	assert.Equal(t, []string{"metro", "bus"}, cfg.Agents.Transport.Modes["wmata"])
	assert.Equal(t, "Seattle, WA", cfg.Agents.Weather.DefaultLocation)
	assert.InDelta(t, 47.6062, cfg.Agents.Weather.Locations["seattle, wa"].Latitude, 0.0001)
	assert.Equal(t, []string{"UA789"}, cfg.Agents.Flight.TrackedFlights)
	assert.False(t, cfg.Agents.Trip.Enabled)

	// Sections the file never mentions keep their defaults.
	assert.True(t, cfg.Agents.Email.Enabled)
	assert.True(t, cfg.Agents.Weather.Enabled)

	require.Contains(t, cfg.Connectors, "gmail-work")
	gmail := cfg.Connectors["gmail-work"]
	assert.Equal(t, "gmail", gmail.Type)
	assert.Equal(t, "work", gmail.Account)
	assert.Equal(t, "sk-secret", gmail.Token)

	wmata := cfg.Connectors["wmata"]
	assert.Equal(t, "B08", wmata.Extra["home_station"])
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not a mapping"))
	assert.Error(t, err)
}

func TestLoad_MissingDefaultFileFallsBack(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.LLM.Mode)
	assert.Equal(t, 8765, cfg.Server.Port)
}

func TestLoad_ExplicitMissingFileIsAnError(t *testing.T) {
	t.Setenv(EnvConfigPath, "/nonexistent/castellan.yaml")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DBPathEnvOverride(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvDBPath, "/data/queue.db")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/queue.db", cfg.Database.Path)
}

func TestBuildEngine_LocalDefault(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")

	engine, err := BuildEngine(LLMConfig{Mode: "local", LocalURL: "http://localhost:11434/v1/"})
	require.NoError(t, err)
	assert.IsType(t, &llm.OllamaEngine{}, engine)
}

func TestBuildEngine_OllamaHostEnvWins(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	engine, err := BuildEngine(LLMConfig{Mode: "", LocalURL: "http://ignored:11434"})
	require.NoError(t, err)
	assert.IsType(t, &llm.OllamaEngine{}, engine)
}

func TestBuildEngine_RemoteRequiresURL(t *testing.T) {
	_, err := BuildEngine(LLMConfig{Mode: "remote"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote_url")
}

func TestBuildEngine_Remote(t *testing.T) {
	engine, err := BuildEngine(LLMConfig{
		Mode:      "remote",
		RemoteURL: "https://api.openai.com/v1/",
		APIKey:    "sk-test",
	})
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIEngine{}, engine)
}

func TestBuildEngine_UnsupportedMode(t *testing.T) {
	_, err := BuildEngine(LLMConfig{Mode: "quantum"})
	assert.Error(t, err)
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434", normalizeOllamaBaseURL("http://localhost:11434/v1/"))
	assert.Equal(t, "http://localhost:11434", normalizeOllamaBaseURL(" http://localhost:11434 "))
	assert.Equal(t, "", normalizeOllamaBaseURL(""))
}
