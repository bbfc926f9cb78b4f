// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	DBPath          string
	ProviderTimeout time.Duration
	AdminToken      string

	Avatar        AvatarConfig
	Session       domain.SessionConfig
	Sweep         SweepConfig
	Completion    CompletionConfig
	Transcription TranscriptionConfig
	Orchestrator  OrchestratorConfig
	RateLimit     RateLimitConfig
}

// AvatarConfig configures the streaming avatar provider.
type AvatarConfig struct {
	APIKey  string
	BaseURL string
}

// SweepConfig controls eviction of stale sessions.
type SweepConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// CompletionConfig configures the text completion provider.
type CompletionConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	SystemMessage   string
	MaxOutputTokens int
}

// TranscriptionConfig configures speech to text.
type TranscriptionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OrchestratorConfig configures the RPA orchestrator.
type OrchestratorConfig struct {
	BaseURL            string
	Organization       string
	Tenant             string
	PAT                string
	OrganizationUnitID string
	ProcessName        string
}

// Enabled reports whether enough is set to reach the orchestrator.
func (o OrchestratorConfig) Enabled() bool {
	return o.PAT != "" && (o.BaseURL != "" || (o.Organization != "" && o.Tenant != ""))
}

// RateLimitConfig is the per-client request budget on /api.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		DBPath:          getEnv("DB_PATH", "./data/relay.db"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		AdminToken:      getEnv("ADMIN_TOKEN", ""),
		Avatar: AvatarConfig{
			APIKey:  getEnv("HEYGEN_API_KEY", ""),
			BaseURL: getEnv("HEYGEN_BASE_URL", "https://api.heygen.com/v1"),
		},
		Session: domain.SessionConfig{
			Quality:             getEnv("SESSION_QUALITY", "medium"),
			AvatarID:            getEnv("AVATAR_ID", "Graham_Black_Shirt_public"),
			VoiceID:             getEnv("VOICE_ID", "6103fd2bb5a14006aa3103cfdae05a9e"),
			VoiceRate:           getEnvFloat("VOICE_RATE", 1.1),
			VideoEncoding:       getEnv("VIDEO_ENCODING", "H264"),
			Version:             getEnv("SESSION_VERSION", "v2"),
			KnowledgeBaseID:     getEnv("KNOWLEDGE_BASE_ID", ""),
			DisableIdleTimeout:  getEnvBool("DISABLE_IDLE_TIMEOUT", false),
			ActivityIdleTimeout: getEnvInt("ACTIVITY_IDLE_TIMEOUT", 240),
		},
		Sweep: SweepConfig{
			MaxAge:   getEnvDuration("SESSION_MAX_AGE", 60*time.Minute),
			Interval: getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Completion: CompletionConfig{
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			BaseURL:         getEnv("OPENAI_BASE_URL", ""),
			Model:           getEnv("OPENAI_MODEL", "gpt-5-nano"),
			SystemMessage:   getEnv("OPENAI_SYSTEM_MESSAGE", ""),
			MaxOutputTokens: getEnvInt("OPENAI_MAX_OUTPUT_TOKENS", 500),
		},
		Transcription: TranscriptionConfig{
			APIKey:  getEnv("DEEPGRAM_API_KEY", ""),
			BaseURL: getEnv("DEEPGRAM_BASE_URL", ""),
			Model:   getEnv("DEEPGRAM_MODEL", "nova-2"),
		},
		Orchestrator: OrchestratorConfig{
			BaseURL:            getEnv("UIPATH_BASE_URL", ""),
			Organization:       getEnv("UIPATH_ORGANIZATION", ""),
			Tenant:             getEnv("UIPATH_TENANT", ""),
			PAT:                getEnv("UIPATH_PAT", ""),
			OrganizationUnitID: getEnv("UIPATH_ORGANIZATION_UNIT_ID", ""),
			ProcessName:        getEnv("UIPATH_PROCESS_NAME", "RPA.Workflow"),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Avatar.APIKey == "" {
		return fmt.Errorf("HEYGEN_API_KEY environment variable is required")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be > 0")
	}
	if c.Session.VoiceRate <= 0 {
		return fmt.Errorf("VOICE_RATE must be > 0")
	}
	if c.Session.ActivityIdleTimeout < 0 {
		return fmt.Errorf("ACTIVITY_IDLE_TIMEOUT must be >= 0")
	}
	if c.Sweep.MaxAge < 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be >= 0")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Completion.MaxOutputTokens <= 0 {
		return fmt.Errorf("OPENAI_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	o := c.Orchestrator
	if (o.Organization != "" || o.Tenant != "" || o.BaseURL != "") && o.PAT == "" {
		return fmt.Errorf("UIPATH_PAT is required when UiPath is configured")
	}
	if o.PAT != "" && !o.Enabled() {
		return fmt.Errorf("UIPATH_ORGANIZATION and UIPATH_TENANT (or UIPATH_BASE_URL) are required with UIPATH_PAT")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("ALLOWED_ORIGINS cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
