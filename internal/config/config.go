package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds everything an agent process needs, loaded once in main and
// threaded through constructors. Components never read the environment
// themselves.
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	LLMBaseURL     string  `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey      string  `mapstructure:"LLM_API_KEY"`
	LLMModel       string  `mapstructure:"LLM_MODEL"`
	LLMTemperature float64 `mapstructure:"LLM_TEMPERATURE"`
	LLMMaxTokens   int     `mapstructure:"LLM_MAX_TOKENS"`

	WarehouseDSN     string `mapstructure:"WAREHOUSE_DSN"`
	SchemaProfile    string `mapstructure:"SCHEMA_PROFILE"`
	SchemaProfileDir string `mapstructure:"SCHEMA_PROFILE_DIR"`

	FHIRBaseURL  string `mapstructure:"FHIR_BASE_URL"`
	FHIRUsername string `mapstructure:"FHIR_USERNAME"`
	FHIRPassword string `mapstructure:"FHIR_PASSWORD"`

	AppointmentRESTBaseURL string `mapstructure:"APPOINTMENT_REST_BASE_URL"`
	AppointmentUsername    string `mapstructure:"APPOINTMENT_USERNAME"`
	AppointmentPassword    string `mapstructure:"APPOINTMENT_PASSWORD"`

	PostgresDSN        string `mapstructure:"POSTGRES_DSN"`
	ClickHouseEventDSN string `mapstructure:"CLICKHOUSE_EVENTS_DSN"`
	AuthCacheTTLS      int    `mapstructure:"AUTH_CACHE_TTL_S"`
}

// Load reads configuration from the environment with an optional .env file.
// Missing optional backends (warehouse, Postgres, events sink) are left
// empty; mains decide the fallback.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "9102")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LLM_BASE_URL", "http://localhost:1234")
	v.SetDefault("LLM_TEMPERATURE", 0.3)
	v.SetDefault("LLM_MAX_TOKENS", 1500)
	v.SetDefault("SCHEMA_PROFILE", "parquet_fhir")
	v.SetDefault("SCHEMA_PROFILE_DIR", "configs/profiles")
	v.SetDefault("AUTH_CACHE_TTL_S", 30)

	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_TEMPERATURE", "LLM_MAX_TOKENS",
		"WAREHOUSE_DSN", "SCHEMA_PROFILE", "SCHEMA_PROFILE_DIR",
		"FHIR_BASE_URL", "FHIR_USERNAME", "FHIR_PASSWORD",
		"APPOINTMENT_REST_BASE_URL", "APPOINTMENT_USERNAME", "APPOINTMENT_PASSWORD",
		"POSTGRES_DSN", "CLICKHOUSE_EVENTS_DSN", "AUTH_CACHE_TTL_S",
	} {
		v.BindEnv(key) //nolint:errcheck // BindEnv only errors on empty key
	}

	// The .env file is a development convenience, not a requirement.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.LLMModel == "" {
		return nil, fmt.Errorf("LLM_MODEL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}
