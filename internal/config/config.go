package config

import (
	"fmt"
	"regexp"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string `mapstructure:"DEFAULT_TENANT"`

	// RangeTable and LegacyRangeTable override the range table names of the
	// modern and legacy schemas.
	RangeTable       string `mapstructure:"RANGE_TABLE"`
	LegacyRangeTable string `mapstructure:"LEGACY_RANGE_TABLE"`

	// BoundaryRulesFile is a YAML file replacing the built-in snap rules.
	BoundaryRulesFile   string `mapstructure:"BOUNDARY_RULES_FILE"`
	FillPlaceholderText string `mapstructure:"FILL_PLACEHOLDER_TEXT"`

	// AuthSigningKey enables bearer-token checks on the HTTP API when set.
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
}

var (
	tenantIDPattern   = regexp.MustCompile(`^[a-zA-Z0-9_]{1,63}$`)
	tableNamePattern  = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	validLogLevels    = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	validEnvironments = map[string]bool{"development": true, "staging": true, "production": true, "test": true}
)

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_TENANT", "RANGE_TABLE", "LEGACY_RANGE_TABLE",
	"BOUNDARY_RULES_FILE", "FILL_PLACEHOLDER_TEXT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DEFAULT_TENANT", "default")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the values Load cannot check by type alone.
func (c *Config) Validate() error {
	if !validEnvironments[c.Env] {
		return fmt.Errorf("ENV must be one of development, staging, production, test, got %q", c.Env)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.LogLevel)
	}
	if !tenantIDPattern.MatchString(c.DefaultTenant) {
		return fmt.Errorf("DEFAULT_TENANT %q must be 1-63 letters, digits or underscores", c.DefaultTenant)
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes")
	}
	for name, table := range map[string]string{"RANGE_TABLE": c.RangeTable, "LEGACY_RANGE_TABLE": c.LegacyRangeTable} {
		if table != "" && !tableNamePattern.MatchString(table) {
			return fmt.Errorf("%s %q is not a valid table name", name, table)
		}
	}
	return nil
}
