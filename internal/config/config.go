package config

import (
	"os"
	"strconv"
	"strings"

	"propd/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Data     DataConfig
	Analysis AnalysisConfig
	Server   ServerConfig
	Database DatabaseConfig
}

// DataConfig holds the input file settings
type DataConfig struct {
	File        string `validate:"required"`
	LabelColumn string `validate:"required"`
}

// AnalysisConfig holds the analysis parameters
type AnalysisConfig struct {
	Statistic    string
	Reference    string
	Alpha        float64
	Permutations int
	Seed         int64
	Weighted     bool
	Moderated    bool
	Cutoffs      []float64
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds optional postgres persistence settings. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Data: DataConfig{
			File:        os.Getenv("DATA_FILE"),
			LabelColumn: getEnvOrDefault("LABEL_COLUMN", "group"),
		},
		Analysis: AnalysisConfig{
			Statistic:    getEnvOrDefault("STATISTIC", "theta_d"),
			Reference:    getEnvOrDefault("REFERENCE", "clr"),
			Alpha:        getEnvFloatOrDefault("ALPHA", 0),
			Permutations: getEnvIntOrDefault("PERMUTATIONS", 0),
			Seed:         int64(getEnvIntOrDefault("SEED", 42)),
			Weighted:     getEnvBoolOrDefault("WEIGHTED", false),
			Moderated:    getEnvBoolOrDefault("MODERATED", false),
		},
		Server: ServerConfig{
			Port: getEnvOrDefault("PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
	}

	cutoffs, err := parseCutoffs(getEnvOrDefault("FDR_CUTOFFS", ""))
	if err != nil {
		return nil, err
	}
	config.Analysis.Cutoffs = cutoffs

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Data.File == "" {
		return errors.ConfigInvalid("DATA_FILE is required")
	}
	if config.Data.LabelColumn == "" {
		return errors.ConfigInvalid("LABEL_COLUMN cannot be empty")
	}
	if config.Analysis.Alpha < 0 {
		return errors.ConfigInvalid("ALPHA cannot be negative")
	}
	if config.Analysis.Permutations < 0 {
		return errors.ConfigInvalid("PERMUTATIONS cannot be negative")
	}
	return nil
}

// parseCutoffs parses a comma-separated ascending cutoff list; empty input
// yields nil (FDR reporting disabled).
func parseCutoffs(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	cutoffs := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.ConfigInvalid("FDR_CUTOFFS must be a comma-separated list of numbers")
		}
		cutoffs = append(cutoffs, v)
	}
	return cutoffs, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
