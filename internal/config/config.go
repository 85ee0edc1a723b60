// Fedflix - Privacy-Preserving Federated TV Recommendations
// Copyright 2026 Fedflix Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fedflix/fedflix

// Package config provides layered configuration for the Fedflix participant
// node using Koanf v2.
//
// Precedence (highest wins): environment variables > config file > defaults.
// Environment variables use the FEDFLIX_ prefix with underscores separating
// path segments, e.g. FEDFLIX_PRIVACY_EPSILON -> privacy.epsilon.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fedflix/config.yaml",
	"/etc/fedflix/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "FEDFLIX_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// config paths.
const envPrefix = "FEDFLIX_"

// Config is the root configuration for the participant node.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Data    DataConfig    `koanf:"data"`
	Model   ModelConfig   `koanf:"model"`
	Scoring ScoringConfig `koanf:"scoring"`
	Rerank  RerankConfig  `koanf:"rerank"`
	Privacy PrivacyConfig `koanf:"privacy"`
	Match   MatchConfig   `koanf:"match"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Host is the listen address.
	Host string `koanf:"host"`

	// Port is the listen port.
	Port int `koanf:"port" validate:"gte=1,lte=65535"`

	// Timeout bounds request handling.
	Timeout time.Duration `koanf:"timeout"`
}

// DataConfig locates the file artifacts the pipeline reads and writes.
// All multi-party coordination is mediated by these folders; the shared and
// restricted folders are synchronized by the underlying data-sharing
// platform.
type DataConfig struct {
	// Dir is the participant's private folder (viewing history, activity,
	// user vector, recommendation results).
	Dir string `koanf:"dir" validate:"required"`

	// SharedDir is the aggregator's shared folder (read-only: vocabulary
	// and global item factors).
	SharedDir string `koanf:"shared_dir" validate:"required"`

	// RestrictedDir is the participant's restricted public folder; the
	// noisy delta written here is readable by the aggregator only.
	RestrictedDir string `koanf:"restricted_dir" validate:"required"`

	// CatalogPath points at the side catalog CSV used for metadata
	// enrichment of recommended titles.
	CatalogPath string `koanf:"catalog_path"`
}

// ModelConfig configures the latent factor model dimensions.
type ModelConfig struct {
	// LatentDim is the embedding dimensionality D shared by the user
	// vector and the item-factor matrix. Persisted user vectors of a
	// different dimensionality are resized on load.
	LatentDim int `koanf:"latent_dim" validate:"gte=1"`

	// Seed makes user-vector initialization and DP noise reproducible.
	// Zero draws fresh randomness each round.
	Seed uint64 `koanf:"seed"`
}

// ScoringConfig configures candidate scoring.
type ScoringConfig struct {
	// NormalizeItemFactors enables item-factor normalization before
	// scoring. Globally aggregated factors can accumulate unbounded
	// magnitude across federated rounds; normalization bounds this without
	// the aggregator's cooperation.
	NormalizeItemFactors bool `koanf:"normalize_item_factors"`

	// NormMethod is "l2" (unit rows) or "scale_mean" (uniform rescale to a
	// target mean row norm).
	NormMethod string `koanf:"norm_method" validate:"oneof=l2 scale_mean"`

	// NormTarget is the target mean row norm for "scale_mean".
	NormTarget float64 `koanf:"norm_target" validate:"gt=0"`

	// ScoreNormalization maps raw scores for display: "none", "sigmoid"
	// or "minmax". Purely presentational; never reorders.
	ScoreNormalization string `koanf:"score_normalization" validate:"oneof=none sigmoid minmax"`

	// RecentWeek is the calendar week used for recent-activity diagnostics.
	RecentWeek int `koanf:"recent_week" validate:"gte=1,lte=53"`

	// ExcludeWatched removes already-watched titles from the candidate set.
	ExcludeWatched bool `koanf:"exclude_watched"`

	// TopK truncates both result lists.
	TopK int `koanf:"top_k" validate:"gte=1"`
}

// RerankConfig configures the MMR diversity reranker.
type RerankConfig struct {
	// Lambda trades relevance against diversity: 1.0 is pure relevance,
	// 0.0 pure diversity.
	Lambda float64 `koanf:"lambda" validate:"gte=0,lte=1"`

	// MaxResults caps the reranked list size.
	MaxResults int `koanf:"max_results" validate:"gte=1"`
}

// PrivacyConfig configures the differential-privacy delta module.
type PrivacyConfig struct {
	// Epsilon is the privacy budget.
	Epsilon float64 `koanf:"epsilon" validate:"gt=0"`

	// Noise selects the noise family: "gaussian" (approximate DP) or
	// "laplace" (pure DP). Unknown families are a configuration error,
	// never silently defaulted.
	Noise string `koanf:"noise" validate:"oneof=gaussian laplace"`

	// Sensitivity bounds one participant's contribution.
	Sensitivity float64 `koanf:"sensitivity" validate:"gt=0"`

	// ClipMethod derives the clipping threshold from the round's delta
	// norms: "median" or "mean".
	ClipMethod string `koanf:"clip_method" validate:"oneof=median mean"`

	// ClipThreshold fixes the clipping threshold; zero derives it with
	// ClipMethod.
	ClipThreshold float64 `koanf:"clip_threshold" validate:"gte=0"`
}

// MatchConfig configures fuzzy title matching against the vocabulary.
type MatchConfig struct {
	// Threshold is the minimum similarity score (0-100) for a fuzzy match
	// to be accepted.
	Threshold int `koanf:"threshold" validate:"gte=0,lte=100"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns a Config with all defaults applied. Defaults load
// first and are overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8428,
			Timeout: 30 * time.Second,
		},
		Data: DataConfig{
			Dir:           "/data/fedflix/private",
			SharedDir:     "/data/fedflix/shared",
			RestrictedDir: "/data/fedflix/restricted",
			CatalogPath:   "/data/fedflix/augmented_titles.csv",
		},
		Model: ModelConfig{
			LatentDim: 10,
			Seed:      0,
		},
		Scoring: ScoringConfig{
			NormalizeItemFactors: true,
			NormMethod:           "l2",
			NormTarget:           1.0,
			ScoreNormalization:   "minmax",
			RecentWeek:           51,
			ExcludeWatched:       true,
			TopK:                 50,
		},
		Rerank: RerankConfig{
			Lambda:     0.3,
			MaxResults: 50,
		},
		Privacy: PrivacyConfig{
			Epsilon:       1.0,
			Noise:         "gaussian",
			Sensitivity:   1.0,
			ClipMethod:    "median",
			ClipThreshold: 0,
		},
		Match: MatchConfig{
			Threshold: 80,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (FEDFLIX_ prefix, highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// FEDFLIX_PRIVACY_CLIP_METHOD -> privacy.clip_method
	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults, validated. Useful for tests and
// embedded use.
func Default() *Config {
	return defaultConfig()
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sectionNames are the top-level config sections used to place the path
// separator when transforming environment variable names.
var sectionNames = []string{
	"server", "data", "model", "scoring", "rerank", "privacy", "match", "logging",
}

// envTransform maps a full environment variable name to a koanf path. The
// provider hands the callback the unstripped name, so the prefix is removed
// here. Only the first underscore after a known section name becomes a
// separator, so FEDFLIX_SCORING_NORM_METHOD maps to scoring.norm_method.
func envTransform(key string) string {
	key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(envPrefix))
	for _, section := range sectionNames {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return key
}

// validate is the process-wide validator instance.
var validate = validator.New()

// Validate checks field constraints and cross-field rules. Unknown noise
// families, clipping methods or normalization methods are reported here
// rather than silently defaulted at use sites.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.Scoring.TopK > 1000 {
		return fmt.Errorf("scoring.top_k %d exceeds maximum 1000", c.Scoring.TopK)
	}
	if c.Rerank.MaxResults > 1000 {
		return fmt.Errorf("rerank.max_results %d exceeds maximum 1000", c.Rerank.MaxResults)
	}
	return nil
}
