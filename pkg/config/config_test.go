package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/azdo"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DEVFLOW_ORG", "contoso")
	t.Setenv("DEVFLOW_PROJECT", "Fabrikam")
	t.Setenv("DEVFLOW_PAT", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute || cfg.CacheMaxEntries != 500 || cfg.MaxConcurrency != 6 || cfg.RequestTimeout != 30*time.Second {
		t.Errorf("defaults = ttl %v, entries %d, concurrency %d, timeout %v", cfg.CacheTTL, cfg.CacheMaxEntries, cfg.MaxConcurrency, cfg.RequestTimeout)
	}
	if cfg.MinSamples != 3 || !slices.Equal(cfg.TargetRefs, []string{"refs/heads/main"}) {
		t.Errorf("MinSamples, TargetRefs = %d, %v", cfg.MinSamples, cfg.TargetRefs)
	}
	accounts, err := azdo.NewServiceAccounts(cfg.ServiceAccountRegex, cfg.ServiceAccountExclude)
	if err != nil {
		t.Fatalf("NewServiceAccounts() error = %v", err)
	}
	if !accounts.Match("Fabrikam Build Service (contoso)") || accounts.Match("Ana Lima") {
		t.Errorf("default service account pattern %q flags the wrong identities", cfg.ServiceAccountRegex)
	}
	if got := cfg.StateMapping().Normalize("active"); got != "inProgress" {
		t.Errorf("StateMapping().Normalize(active) = %q, want inProgress", got)
	}
	friday := time.Date(2024, time.May, 3, 16, 0, 0, 0, time.UTC)
	if got := cfg.Schedule().Duration(friday, friday.AddDate(0, 0, 3).Add(-6*time.Hour)); got != 2*time.Hour {
		t.Errorf("Schedule().Duration(Fri 16:00, Mon 10:00) = %v, want 2h", got)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DEVFLOW_CACHE_TTL", "90s")
	t.Setenv("DEVFLOW_MAX_CONCURRENCY", "2")
	t.Setenv("DEVFLOW_RATE_LIMIT", "2.5")
	t.Setenv("DEVFLOW_TARGET_REFS", "refs/heads/main, refs/heads/release ,")
	t.Setenv("DEVFLOW_STATE_DONE", "Shipped,Closed")
	t.Setenv("DEVFLOW_BUSINESS_DAYS", "sun,mon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 90*time.Second || cfg.MaxConcurrency != 2 || cfg.RateLimit != 2.5 {
		t.Errorf("overrides = ttl %v, concurrency %d, rate %v", cfg.CacheTTL, cfg.MaxConcurrency, cfg.RateLimit)
	}
	if !slices.Equal(cfg.TargetRefs, []string{"refs/heads/main", "refs/heads/release"}) {
		t.Errorf("TargetRefs = %q", cfg.TargetRefs)
	}
	if got := cfg.StateMapping().Normalize("shipped"); got != "done" {
		t.Errorf("Normalize(shipped) = %q, want done", got)
	}
	if !cfg.Schedule().Works(time.Sunday) || cfg.Schedule().Works(time.Tuesday) {
		t.Error("Schedule() ignores DEVFLOW_BUSINESS_DAYS")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "DEVFLOW_ORG=from-file\nDEVFLOW_PROJECT=file-project\nDEVFLOW_PAT=file-pat\nDEVFLOW_MIN_SAMPLES=7\nOTHER=ignored\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEVFLOW_ORG", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Organization != "from-env" {
		t.Errorf("Organization = %q, want the process environment to win", cfg.Organization)
	}
	if cfg.Project != "file-project" || cfg.MinSamples != 7 {
		t.Errorf("Project, MinSamples = %q, %d, want values from the file", cfg.Project, cfg.MinSamples)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	setRequired(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load(missing file) error = %v, want nil", err)
	}
	if cfg.Organization != "contoso" {
		t.Errorf("Organization = %q, want contoso", cfg.Organization)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantKey string
	}{
		{name: "missing pat", env: map[string]string{"DEVFLOW_PAT": ""}, wantKey: "DEVFLOW_PAT"},
		{name: "zero concurrency", env: map[string]string{"DEVFLOW_MAX_CONCURRENCY": "0"}, wantKey: "DEVFLOW_MAX_CONCURRENCY"},
		{name: "bad regex", env: map[string]string{"DEVFLOW_SERVICE_ACCOUNT_REGEX": "(unclosed"}, wantKey: "DEVFLOW_SERVICE_ACCOUNT_REGEX"},
		{name: "bad business hours", env: map[string]string{"DEVFLOW_BUSINESS_START": "25:00"}, wantKey: "DEVFLOW_BUSINESS_START"},
		{name: "negative rate", env: map[string]string{"DEVFLOW_RATE_LIMIT": "-1"}, wantKey: "DEVFLOW_RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Load() error = %v, want *ConfigurationError", err)
			}
			if cerr.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", cerr.Key, tt.wantKey)
			}
		})
	}
}

func TestParseTeams(t *testing.T) {
	teams, err := ParseTeams([]byte("teams:\n  web: [Ana@Example.com, bo@example.com]\n  data:\n    - cy@example.com\n    - ''\n"))
	if err != nil {
		t.Fatalf("ParseTeams() error = %v", err)
	}
	tests := map[string]string{"ana@example.com": "web", " BO@example.com": "web", "cy@example.com": "data"}
	for key, want := range tests {
		if got, ok := teams.Lookup(key); !ok || got != want {
			t.Errorf("Lookup(%q) = %q, %v, want %q", key, got, ok, want)
		}
	}
	if _, ok := teams.Lookup("dee@example.com"); ok {
		t.Error("Lookup() of an unknown identity succeeded")
	}
}

func TestParseTeams_Errors(t *testing.T) {
	_, err := ParseTeams([]byte("teams:\n  web: [ana@example.com]\n  data: [ANA@example.com]\n"))
	if err == nil || !strings.Contains(err.Error(), "both") {
		t.Errorf("ParseTeams(duplicate) error = %v", err)
	}
	if _, err := ParseTeams([]byte("teams: [")); err == nil {
		t.Error("ParseTeams(malformed) error = nil")
	}
	if _, err := LoadTeams(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadTeams(missing) error = nil")
	}
}
