package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envNames = []string{
	"GEMINI_API_KEY", "PORT", "TRANSPORT", "BIDI_URL", "GEMINI_MODEL", "VOICE_NAME",
	"SYSTEM_INSTRUCTION", "PERSONA_FILE", "REDIS_URL", "REDIS_PASSWORD", "LOG_LEVEL",
	"INPUT_SAMPLE_RATE", "OUTPUT_SAMPLE_RATE", "CAPTURE_BLOCK_SIZE", "MAX_BUFFER_SIZE",
	"STATUS_TTL", "IDLE_TIMEOUT", "KEEPALIVE_PERIOD", "ALLOWED_ORIGINS", "AUTO_START",
}

// cleanEnv blanks every variable LoadConfig reads. Empty means unset.
func cleanEnv(t *testing.T) {
	t.Helper()
	for _, name := range envNames {
		t.Setenv(name, "")
	}
}

func TestLoadConfig_RequiresAPIKey(t *testing.T) {
	cleanEnv(t)

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cleanEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	want := Default()
	want.GeminiAPIKey = "key"
	assert.Equal(t, want, cfg)
	assert.NotEmpty(t, cfg.SystemInstruction)
}

func TestLoadConfig_Environment(t *testing.T) {
	cleanEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("PORT", "9090")
	t.Setenv("TRANSPORT", "bidi")
	t.Setenv("BIDI_URL", "ws://localhost:1234")
	t.Setenv("GEMINI_MODEL", "gemini-live-test")
	t.Setenv("VOICE_NAME", "Kore")
	t.Setenv("INPUT_SAMPLE_RATE", "8000")
	t.Setenv("CAPTURE_BLOCK_SIZE", "1024")
	t.Setenv("STATUS_TTL", "60")
	t.Setenv("IDLE_TIMEOUT", "300")
	t.Setenv("ALLOWED_ORIGINS", "http://a,http://b")
	t.Setenv("AUTO_START", "true")
	t.Setenv("REDIS_URL", "localhost:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, TransportBidi, cfg.Transport)
	assert.Equal(t, "ws://localhost:1234", cfg.BidiURL)
	assert.Equal(t, "gemini-live-test", cfg.Model)
	assert.Equal(t, "Kore", cfg.Voice)
	assert.Equal(t, 8000, cfg.InputSampleRate)
	assert.Equal(t, 24000, cfg.OutputSampleRate)
	assert.Equal(t, 1024, cfg.CaptureBlockSize)
	assert.Equal(t, time.Minute, cfg.StatusTTL)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"PORT":               "eighty",
		"TRANSPORT":          "grpc",
		"INPUT_SAMPLE_RATE":  "0",
		"CAPTURE_BLOCK_SIZE": "-4",
		"IDLE_TIMEOUT":       "-1",
		"KEEPALIVE_PERIOD":   "soon",
		"AUTO_START":         "perhaps",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			cleanEnv(t)
			t.Setenv("GEMINI_API_KEY", "key")
			t.Setenv(name, value)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_PersonaFile(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model: gemini-persona
voice: Aoede
system_instruction: |
  You are a calm museum guide.
`), 0o600))

	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("VOICE_NAME", "Kore")
	t.Setenv("PERSONA_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini-persona", cfg.Model)
	assert.Equal(t, "Aoede", cfg.Voice)
	assert.Equal(t, "You are a calm museum guide.", cfg.SystemInstruction)
}

func TestLoadConfig_PersonaFileErrors(t *testing.T) {
	cleanEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")

	t.Setenv("PERSONA_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "read persona file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("model: [unterminated"), 0o600))
	t.Setenv("PERSONA_FILE", bad)
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "parse persona file")
}

func TestLoadConfig_PartialPersonaKeepsEnvironment(t *testing.T) {
	cleanEnv(t)
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voice: Aoede\n"), 0o600))

	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("GEMINI_MODEL", "from-env")
	t.Setenv("PERSONA_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Model)
	assert.Equal(t, "Aoede", cfg.Voice)
	assert.Equal(t, defaultSystemInstruction, cfg.SystemInstruction)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
