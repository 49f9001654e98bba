// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	custom_errors "ecosystem-harvester/internal/errors"
	"ecosystem-harvester/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	HTTPAddr          string   `mapstructure:"HTTP_ADDR"`
	DBURL             string   `mapstructure:"DB_URL"`
	GithubTokens      []string `mapstructure:"GITHUB_TOKENS"`
	GithubBaseURL     string   `mapstructure:"GITHUB_BASE_URL"`
	Ecosystem         string   `mapstructure:"ECOSYSTEM"`
	Language          string   `mapstructure:"LANGUAGE"`
	SearchTargets     []string `mapstructure:"SEARCH_TARGETS"`
	BroadKeywords     []string `mapstructure:"BROAD_KEYWORDS"`
	BroadStarFloor    int      `mapstructure:"BROAD_STAR_FLOOR"`
	TrendingStarFloor int      `mapstructure:"TRENDING_STAR_FLOOR"`
	DiscoveryCron     string   `mapstructure:"DISCOVERY_CRON"`
	ActivityCron      string   `mapstructure:"ACTIVITY_CRON"`
	BackfillCron      string   `mapstructure:"BACKFILL_CRON"`
	ActivityPageSize  int      `mapstructure:"ACTIVITY_PAGE_SIZE"`

	// Parsed form of SearchTargets, populated by LoadConfig.
	ParsedTargets []model.SearchTarget `mapstructure:"-"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("ECOSYSTEM", "flutter")
	viper.SetDefault("LANGUAGE", "dart")
	viper.SetDefault("BROAD_KEYWORDS", []string{"flutter"})
	viper.SetDefault("BROAD_STAR_FLOOR", 20)
	viper.SetDefault("TRENDING_STAR_FLOOR", 100)
	viper.SetDefault("DISCOVERY_CRON", "0 2 * * *")
	viper.SetDefault("ACTIVITY_CRON", "0 5 * * *")
	viper.SetDefault("BACKFILL_CRON", "0 12 * * 0")
	viper.SetDefault("ACTIVITY_PAGE_SIZE", 50)

	// Required keys get empty defaults so AutomaticEnv can resolve them.
	viper.SetDefault("DB_URL", "")
	viper.SetDefault("GITHUB_TOKENS", []string{})
	viper.SetDefault("GITHUB_BASE_URL", "")
	viper.SetDefault("SEARCH_TARGETS", []string{})

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if len(cfg.GithubTokens) == 0 {
		return nil, errors.New("GITHUB_TOKENS must contain at least one token")
	}
	if len(cfg.SearchTargets) == 0 {
		return nil, errors.New("SEARCH_TARGETS must contain at least one target")
	}

	parsed, err := ParseSearchTargets(cfg.SearchTargets)
	if err != nil {
		return nil, err
	}
	cfg.ParsedTargets = parsed

	return &cfg, nil
}

// ParseSearchTargets parses 'filename:keyword[:type]' descriptor strings.
func ParseSearchTargets(targets []string) ([]model.SearchTarget, error) {
	var parsed []model.SearchTarget
	for _, t := range targets {
		parts := strings.Split(t, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, &custom_errors.ErrInvalidTargetFormat{Target: t}
		}
		target := model.SearchTarget{Filename: parts[0], Keyword: parts[1]}
		if len(parts) == 3 {
			target.Type = parts[2]
		}
		parsed = append(parsed, target)
	}
	return parsed, nil
}
