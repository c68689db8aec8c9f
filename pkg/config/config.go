// Package config loads devflow settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/codeGROOVE-dev/devflow/pkg/azdo"
	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
	"github.com/codeGROOVE-dev/devflow/pkg/worktime"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "DEVFLOW"

// ConfigurationError reports a missing or invalid setting. Callers should stop
// rather than run with partial configuration.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Key, e.Reason)
}

// Config holds every setting the core consumes.
type Config struct {
	Organization          string        `mapstructure:"org"`
	Project               string        `mapstructure:"project"`
	Repository            string        `mapstructure:"repo"`
	Token                 string        `mapstructure:"pat"`
	BaseURL               string        `mapstructure:"base_url"`
	ServiceAccountRegex   string        `mapstructure:"service_account_regex"`
	BusinessStart         string        `mapstructure:"business_start"`
	BusinessEnd           string        `mapstructure:"business_end"`
	TeamsFile             string        `mapstructure:"teams_file"`
	ServiceAccountExclude []string      `mapstructure:"service_account_exclude"`
	BusinessDays          []string      `mapstructure:"business_days"`
	TargetRefs            []string      `mapstructure:"target_refs"`
	StatesToDo            []string      `mapstructure:"state_todo"`
	StatesInProgress      []string      `mapstructure:"state_in_progress"`
	StatesDone            []string      `mapstructure:"state_done"`
	CacheTTL              time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	RateLimit             float64       `mapstructure:"rate_limit"`
	CacheMaxEntries       int           `mapstructure:"cache_max_entries"`
	MaxConcurrency        int           `mapstructure:"max_concurrency"`
	MinSamples            int           `mapstructure:"min_samples"`

	schedule worktime.Schedule
}

var keys = []string{
	"org", "project", "repo", "pat", "base_url",
	"cache_ttl", "cache_max_entries", "max_concurrency", "request_timeout", "rate_limit",
	"service_account_regex", "service_account_exclude",
	"business_start", "business_end", "business_days",
	"target_refs", "min_samples", "teams_file",
	"state_todo", "state_in_progress", "state_done",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "https://dev.azure.com")
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("cache_max_entries", 500)
	v.SetDefault("max_concurrency", 6)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("rate_limit", 0)
	v.SetDefault("service_account_regex", azdo.DefaultServiceAccountPattern)
	v.SetDefault("service_account_exclude", []string{})
	v.SetDefault("business_start", "09:00")
	v.SetDefault("business_end", "17:00")
	v.SetDefault("business_days", []string{"mon", "tue", "wed", "thu", "fri"})
	v.SetDefault("target_refs", []string{"refs/heads/main"})
	v.SetDefault("min_samples", 3)
	v.SetDefault("teams_file", "")

	mapping := timeline.DefaultStateMapping()
	v.SetDefault("state_todo", mapping.ToDo)
	v.SetDefault("state_in_progress", mapping.InProgress)
	v.SetDefault("state_done", mapping.Done)
}

// Load reads DEVFLOW_* variables. Values in envFile fill in variables the process
// environment does not set; a missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if envFile != "" {
		envMap, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			for k, val := range envMap {
				key, ok := strings.CutPrefix(k, EnvPrefix+"_")
				if !ok {
					continue
				}
				if _, exists := os.LookupEnv(k); !exists {
					v.SetDefault(strings.ToLower(key), val)
				}
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, &ConfigurationError{Key: envFile, Reason: err.Error()}
		}
	}

	for _, k := range keys {
		_ = v.BindEnv(k) //nolint:errcheck // BindEnv only fails without a key
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Key: EnvPrefix, Reason: err.Error()}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize trims list entries and drops empty ones.
func (c *Config) normalize() {
	for _, list := range []*[]string{
		&c.ServiceAccountExclude, &c.BusinessDays, &c.TargetRefs,
		&c.StatesToDo, &c.StatesInProgress, &c.StatesDone,
	} {
		var out []string
		for _, item := range *list {
			for part := range strings.SplitSeq(item, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		*list = out
	}
}

func envKey(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// Validate checks required settings and parses derived values.
func (c *Config) Validate() error {
	for _, req := range []struct{ key, val string }{
		{"org", c.Organization},
		{"project", c.Project},
		{"pat", c.Token},
	} {
		if strings.TrimSpace(req.val) == "" {
			return &ConfigurationError{Key: envKey(req.key), Reason: "is required"}
		}
	}
	if c.CacheTTL < 0 {
		return &ConfigurationError{Key: envKey("cache_ttl"), Reason: "must not be negative"}
	}
	if c.CacheMaxEntries <= 0 {
		return &ConfigurationError{Key: envKey("cache_max_entries"), Reason: "must be positive"}
	}
	if c.MaxConcurrency <= 0 {
		return &ConfigurationError{Key: envKey("max_concurrency"), Reason: "must be positive"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigurationError{Key: envKey("request_timeout"), Reason: "must be positive"}
	}
	if c.RateLimit < 0 {
		return &ConfigurationError{Key: envKey("rate_limit"), Reason: "must not be negative"}
	}
	if c.MinSamples < 0 {
		return &ConfigurationError{Key: envKey("min_samples"), Reason: "must not be negative"}
	}
	if c.ServiceAccountRegex != "" {
		if _, err := regexp.Compile(c.ServiceAccountRegex); err != nil {
			return &ConfigurationError{Key: envKey("service_account_regex"), Reason: err.Error()}
		}
	}
	s, err := worktime.ParseSchedule(c.BusinessStart, c.BusinessEnd, c.BusinessDays)
	if err != nil {
		return &ConfigurationError{Key: envKey("business_start"), Reason: err.Error()}
	}
	c.schedule = s
	return nil
}

// Schedule returns the parsed business-hours schedule.
func (c *Config) Schedule() worktime.Schedule {
	if c.schedule.IsZero() {
		return worktime.Default
	}
	return c.schedule
}

// StateMapping returns the configured raw state names per category.
func (c *Config) StateMapping() timeline.StateMapping {
	return timeline.StateMapping{ToDo: c.StatesToDo, InProgress: c.StatesInProgress, Done: c.StatesDone}
}
