package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	LiveModel       string // Gemini Live model for voice sessions
	TextModel       string // model for simulated text calls
	Voice           string // prebuilt voice name, empty for the model default
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	ListenOnly      bool // keep sessions running when the microphone is denied
	Greet           bool // ask the model to open calls with the agent greeting
	LogLevel        string
	LogFormat       string // "text" or "json"
	AgentsFile      string // YAML agents seeded into an empty store
	S3              S3Config
}

// S3Config is the optional call log bucket
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether call logs should be archived
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		RedisPassword:   "",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		Greet:           true,
		LogLevel:        "info",
		LogFormat:       "text",
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid PORT: %d out of range", p)
		}
		config.Port = p
	}

	// Optional: GEMINI_LIVE_MODEL, GEMINI_TEXT_MODEL, GEMINI_VOICE
	config.LiveModel = os.Getenv("GEMINI_LIVE_MODEL")
	config.TextModel = os.Getenv("GEMINI_TEXT_MODEL")
	config.Voice = os.Getenv("GEMINI_VOICE")

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		if m < 1 {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: must be at least 1")
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: LISTEN_ONLY, GREET
	if listenOnly := os.Getenv("LISTEN_ONLY"); listenOnly != "" {
		b, err := strconv.ParseBool(listenOnly)
		if err != nil {
			return nil, fmt.Errorf("invalid LISTEN_ONLY: %w", err)
		}
		config.ListenOnly = b
	}
	if greet := os.Getenv("GREET"); greet != "" {
		b, err := strconv.ParseBool(greet)
		if err != nil {
			return nil, fmt.Errorf("invalid GREET: %w", err)
		}
		config.Greet = b
	}

	// Optional: LOG_LEVEL ("debug", "info", "warn", "error")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		switch strings.ToLower(level) {
		case "debug", "info", "warn", "error":
			config.LogLevel = strings.ToLower(level)
		default:
			return nil, fmt.Errorf("invalid LOG_LEVEL: must be 'debug', 'info', 'warn', or 'error'")
		}
	}

	// Optional: AGENTS_FILE
	config.AgentsFile = os.Getenv("AGENTS_FILE")

	// Optional: LOG_FORMAT ("text" or "json")
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		switch format {
		case "text", "json":
			config.LogFormat = format
		default:
			return nil, fmt.Errorf("invalid LOG_FORMAT: must be 'text' or 'json'")
		}
	}

	// Optional: S3_* for call log archiving
	config.S3 = S3Config{
		Bucket:          os.Getenv("S3_BUCKET"),
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		Region:          os.Getenv("S3_REGION"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
	}
	if config.S3.Enabled() && (config.S3.AccessKeyID == "" || config.S3.SecretAccessKey == "") {
		return nil, fmt.Errorf("S3_BUCKET requires S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY")
	}

	return config, nil
}
