package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport names accepted in TRANSPORT.
const (
	TransportGenAI = "genai"
	TransportBidi  = "bidi"
)

// Config holds all daemon configuration
type Config struct {
	Port              int
	GeminiAPIKey      string
	Transport         string // "genai" or "bidi"
	BidiURL           string // base websocket URL override for the raw transport
	Model             string
	Voice             string
	SystemInstruction string
	PersonaFile       string
	InputSampleRate   int
	OutputSampleRate  int
	CaptureBlockSize  int // sample frames per captured frame
	MaxBufferSize     int // Maximum outbound queue size in bytes
	RedisURL          string
	RedisPassword     string
	StatusTTL         time.Duration
	IdleTimeout       time.Duration // 0 disables the idle reaper
	AllowedOrigins    []string
	KeepAlivePeriod   time.Duration
	AutoStart         bool
	LogLevel          string
}

// Persona is the optional YAML file selected by PERSONA_FILE. Non-empty
// fields override the environment.
type Persona struct {
	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	SystemInstruction string `yaml:"system_instruction"`
}

// Default returns the configuration used before the environment is applied.
func Default() *Config {
	return &Config{
		Port:              8080,
		Transport:         TransportGenAI,
		Model:             "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:             "Puck",
		SystemInstruction: defaultSystemInstruction,
		InputSampleRate:   16000,
		OutputSampleRate:  24000,
		CaptureBlockSize:  4096,
		MaxBufferSize:     1024 * 1024, // 1MB default
		RedisURL:          "",
		StatusTTL:         10 * time.Minute,
		IdleTimeout:       0,
		AllowedOrigins:    []string{"*"},
		KeepAlivePeriod:   30 * time.Second,
		LogLevel:          "info",
	}
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	if err := intEnv("PORT", &config.Port); err != nil {
		return nil, err
	}

	// Optional: TRANSPORT ("genai" or "bidi")
	if transport := os.Getenv("TRANSPORT"); transport != "" {
		switch transport {
		case TransportGenAI, TransportBidi:
			config.Transport = transport
		default:
			return nil, fmt.Errorf("invalid TRANSPORT: must be '%s' or '%s'", TransportGenAI, TransportBidi)
		}
	}

	stringEnv("BIDI_URL", &config.BidiURL)
	stringEnv("GEMINI_MODEL", &config.Model)
	stringEnv("VOICE_NAME", &config.Voice)
	stringEnv("SYSTEM_INSTRUCTION", &config.SystemInstruction)
	stringEnv("PERSONA_FILE", &config.PersonaFile)
	stringEnv("REDIS_URL", &config.RedisURL)
	stringEnv("REDIS_PASSWORD", &config.RedisPassword)
	stringEnv("LOG_LEVEL", &config.LogLevel)

	for name, dst := range map[string]*int{
		"INPUT_SAMPLE_RATE":  &config.InputSampleRate,
		"OUTPUT_SAMPLE_RATE": &config.OutputSampleRate,
		"CAPTURE_BLOCK_SIZE": &config.CaptureBlockSize,
		"MAX_BUFFER_SIZE":    &config.MaxBufferSize,
	} {
		if err := intEnv(name, dst); err != nil {
			return nil, err
		}
		if *dst <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", name)
		}
	}

	// Optional: STATUS_TTL, IDLE_TIMEOUT (in seconds)
	if err := secondsEnv("STATUS_TTL", &config.StatusTTL); err != nil {
		return nil, err
	}
	if err := secondsEnv("IDLE_TIMEOUT", &config.IdleTimeout); err != nil {
		return nil, err
	}
	if err := secondsEnv("KEEPALIVE_PERIOD", &config.KeepAlivePeriod); err != nil {
		return nil, err
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if autoStart := os.Getenv("AUTO_START"); autoStart != "" {
		b, err := strconv.ParseBool(autoStart)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_START: %w", err)
		}
		config.AutoStart = b
	}

	if config.PersonaFile != "" {
		if err := config.applyPersona(config.PersonaFile); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) applyPersona(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona file: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if p.Model != "" {
		c.Model = p.Model
	}
	if p.Voice != "" {
		c.Voice = p.Voice
	}
	if s := strings.TrimSpace(p.SystemInstruction); s != "" {
		c.SystemInstruction = s
	}
	return nil
}

func stringEnv(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func intEnv(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func secondsEnv(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < 0 {
		return fmt.Errorf("invalid %s: must not be negative", name)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
