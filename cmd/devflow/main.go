// Package main implements a CLI that prints per-person engineering flow and review
// metrics for one Azure DevOps project and time window.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/azdo"
	"github.com/codeGROOVE-dev/devflow/pkg/cache"
	"github.com/codeGROOVE-dev/devflow/pkg/config"
	"github.com/codeGROOVE-dev/devflow/pkg/fetch"
	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
)

var (
	fromFlag = flag.String("from", "", "Window start (YYYY-MM-DD or RFC3339); default: -days before -to")
	toFlag   = flag.String("to", "", "Window end (YYYY-MM-DD or RFC3339); default: now")
	days     = flag.Int("days", 14, "Window length in days when -from is not set")
	verbose  = flag.Bool("v", false, "Verbose output with detailed diagnostics")
	logJSON  = flag.Bool("log-json", false, "Log as JSON instead of text")
	noCache  = flag.Bool("no-cache", false, "Bypass the response cache")
	envFile  = flag.String("env", ".env", "Optional .env file with DEVFLOW_* settings")
	query    = flag.String("wiql", "", "Work item query (default: items changed in the window)")
	areas    = flag.Int("areas", -1, "Include area paths down to this depth (-1 to skip)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Prints per-person flow and review metrics as JSON.\n")
		fmt.Fprintf(os.Stderr, "Settings come from DEVFLOW_* environment variables (DEVFLOW_ORG, DEVFLOW_PROJECT, DEVFLOW_PAT, ...).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -days 30\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -from 2024-03-01 -to 2024-04-01 -v\n", os.Args[0])
	}
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	if err := run(); err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			slog.Error("Invalid configuration", "key", cerr.Key, "reason", cerr.Reason)
		} else {
			slog.Error("Failed to build report", "error", err)
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	window, err := parseWindow(*fromFlag, *toFlag, *days, time.Now())
	if err != nil {
		return err
	}

	var teams config.Teams
	if cfg.TeamsFile != "" {
		if teams, err = config.LoadTeams(cfg.TeamsFile); err != nil {
			return err
		}
	}

	fetcher, err := fetch.New(fetch.Config{
		Token:          cfg.Token,
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
	})
	if err != nil {
		return err
	}
	store := cache.New(cache.Config{MaxEntries: cfg.CacheMaxEntries})
	client, err := azdo.New(azdo.Config{
		Organization:          cfg.Organization,
		Project:               cfg.Project,
		Repository:            cfg.Repository,
		BaseURL:               cfg.BaseURL,
		ServiceAccountPattern: cfg.ServiceAccountRegex,
		ServiceAccountExclude: cfg.ServiceAccountExclude,
		TargetRefs:            cfg.TargetRefs,
		CacheTTL:              cfg.CacheTTL,
		Bypass:                *noCache,
	}, fetcher, store)
	if err != nil {
		return err
	}

	ds, err := collect(ctx, client, collectOptions{
		Window:      window,
		Query:       *query,
		States:      cfg.StateMapping(),
		AreaDepth:   *areas,
		Repository:  cfg.Repository,
		BypassCache: *noCache,
	})
	if err != nil {
		return err
	}

	rep := summarize(ds, summarizeOptions{
		Window:         window,
		Schedule:       cfg.Schedule(),
		MinSamples:     cfg.MinSamples,
		Teams:          teams,
		ServiceAccount: client.ServiceAccounts(),
	})
	stats := store.Stats()
	slog.Info("Report complete", "component", "cli", "people", len(rep.People),
		"cache_hits", stats.Hits, "cache_misses", stats.Misses, "cache_evictions", stats.Evictions)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// parseWindow resolves the -from/-to/-days flags against now.
func parseWindow(from, to string, days int, now time.Time) (timeline.Window, error) {
	end := now.UTC()
	if to != "" {
		t, err := parseDate(to)
		if err != nil {
			return timeline.Window{}, fmt.Errorf("-to: %w", err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -days)
	if from != "" {
		t, err := parseDate(from)
		if err != nil {
			return timeline.Window{}, fmt.Errorf("-from: %w", err)
		}
		start = t
	}
	if !end.After(start) {
		return timeline.Window{}, fmt.Errorf("window end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return timeline.Window{From: start, To: end}, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t.UTC(), nil
}
