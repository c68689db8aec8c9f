package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/devflow/pkg/azdo"
	"github.com/codeGROOVE-dev/devflow/pkg/metrics"
	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

// Goroutines started per fan-out; the fetcher's semaphore bounds actual requests.
const fanOut = 16

var workItemFields = []string{
	"System.Id", "System.Title", "System.State", "System.AssignedTo",
	"System.CreatedDate", "System.ChangedDate", "Microsoft.VSTS.Common.ClosedDate",
}

// remote is the part of *azdo.Client the collector uses.
type remote interface {
	GraphUsers(ctx context.Context, bypass bool) ([]azdo.User, error)
	QueryByWIQL(ctx context.Context, query string) ([]int, error)
	WorkItemsBatch(ctx context.Context, ids []int, fields []string) ([]types.WorkItem, error)
	WorkItemUpdates(ctx context.Context, id int) ([]types.WorkItemUpdate, error)
	PullRequests(ctx context.Context, q azdo.PullRequestQuery) ([]types.PullRequest, error)
	ProjectID(ctx context.Context) (string, error)
	PRThreads(ctx context.Context, prID int) ([]types.PRThread, error)
	PRReviewers(ctx context.Context, prID int) ([]types.PRReviewer, error)
	PRIterations(ctx context.Context, prID int) ([]types.PRIteration, error)
	PRWorkItems(ctx context.Context, prID int) ([]types.ResourceRef, error)
	PolicyEvaluations(ctx context.Context, projectID string, prID int) ([]types.PolicyEvaluation, error)
	AreaPaths(ctx context.Context, depth int) (types.AreaNode, error)
}

type collectOptions struct {
	Window      timeline.Window
	Query       string
	States      timeline.StateMapping
	AreaDepth   int // negative skips area paths
	Repository  string
	BypassCache bool
}

type workItemRecord struct {
	Item     types.WorkItem
	Segments []timeline.Segment
}

// dataset is everything fetched for one report.
type dataset struct {
	LinkedWorkItems map[int]int // pull request id -> linked work item count
	Users           []azdo.User
	WorkItems       []workItemRecord
	PullRequests    []metrics.PullRequestData
	Areas           []string
}

func defaultQuery(w timeline.Window) string {
	return fmt.Sprintf("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = @project "+
		"AND [System.ChangedDate] >= '%s' ORDER BY [System.ChangedDate] DESC", w.From.Format("2006-01-02"))
}

func collect(ctx context.Context, r remote, opts collectOptions) (*dataset, error) {
	ds := &dataset{LinkedWorkItems: make(map[int]int)}

	users, err := r.GraphUsers(ctx, opts.BypassCache)
	if err != nil {
		// The directory lives on a separate host that PATs without graph scope cannot read.
		slog.Warn("Failed to list directory users, continuing without them", "component", "cli", "error", err)
	}
	ds.Users = users

	if err := collectWorkItems(ctx, r, opts, ds); err != nil {
		return nil, err
	}
	if opts.Repository != "" {
		if err := collectPullRequests(ctx, r, opts, ds); err != nil {
			return nil, err
		}
	} else {
		slog.Info("No repository configured, skipping pull requests", "component", "cli")
	}

	if opts.AreaDepth >= 0 {
		root, err := r.AreaPaths(ctx, opts.AreaDepth)
		if err != nil {
			return nil, fmt.Errorf("area paths: %w", err)
		}
		root.Walk(func(n types.AreaNode) {
			name := n.Path
			if name == "" {
				name = n.Name
			}
			ds.Areas = append(ds.Areas, name)
		})
	}
	return ds, nil
}

func collectWorkItems(ctx context.Context, r remote, opts collectOptions, ds *dataset) error {
	q := opts.Query
	if q == "" {
		q = defaultQuery(opts.Window)
	}
	ids, err := r.QueryByWIQL(ctx, q)
	if err != nil {
		return fmt.Errorf("work item query: %w", err)
	}
	items, err := r.WorkItemsBatch(ctx, ids, workItemFields)
	if err != nil {
		return fmt.Errorf("work items: %w", err)
	}
	slog.Info("Reconstructing work item timelines", "component", "cli", "items", len(items))

	records := make([]workItemRecord, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, item := range items {
		g.Go(func() error {
			updates, err := r.WorkItemUpdates(gctx, item.ID)
			if err != nil {
				return fmt.Errorf("work item %d updates: %w", item.ID, err)
			}
			records[i] = workItemRecord{
				Item:     item,
				Segments: timeline.Build(timeline.EventsFromUpdates(updates), opts.States, nil),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	ds.WorkItems = records
	return nil
}

func collectPullRequests(ctx context.Context, r remote, opts collectOptions, ds *dataset) error {
	prs, err := r.PullRequests(ctx, azdo.PullRequestQuery{From: opts.Window.From, To: opts.Window.To})
	if err != nil {
		return fmt.Errorf("pull requests: %w", err)
	}
	projectID, err := r.ProjectID(ctx)
	if err != nil {
		return fmt.Errorf("project id: %w", err)
	}
	slog.Info("Loading pull request details", "component", "cli", "pull_requests", len(prs))

	details := make([]metrics.PullRequestData, len(prs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, pr := range prs {
		g.Go(func() error {
			d, links, err := loadDetails(gctx, r, projectID, pr)
			if err != nil {
				return fmt.Errorf("pull request %d: %w", pr.ID, err)
			}
			details[i] = d
			mu.Lock()
			ds.LinkedWorkItems[pr.ID] = links
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	ds.PullRequests = details
	return nil
}

// loadDetails fetches the per-PR endpoints concurrently.
func loadDetails(ctx context.Context, r remote, projectID string, pr types.PullRequest) (metrics.PullRequestData, int, error) {
	d := metrics.PullRequestData{PR: pr}
	var links []types.ResourceRef
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Threads, err = r.PRThreads(gctx, pr.ID)
		return err
	})
	g.Go(func() (err error) {
		d.Reviewers, err = r.PRReviewers(gctx, pr.ID)
		return err
	})
	g.Go(func() (err error) {
		d.Iterations, err = r.PRIterations(gctx, pr.ID)
		return err
	})
	g.Go(func() (err error) {
		d.Evaluations, err = r.PolicyEvaluations(gctx, projectID, pr.ID)
		return err
	})
	g.Go(func() (err error) {
		links, err = r.PRWorkItems(gctx, pr.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return metrics.PullRequestData{}, 0, err
	}
	return d, len(links), nil
}
