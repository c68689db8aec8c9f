package azdo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/devflow/pkg/fetch"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

const prPageSize = 100

// PullRequestQuery selects pull requests created inside [From, To].
type PullRequestQuery struct {
	From       time.Time
	To         time.Time
	Status     string   // active, abandoned, completed or all (default)
	TargetRefs []string // default: the client's configured target refs
}

// PullRequests searches each target ref concurrently and merges the results,
// keeping the first occurrence of every pull request id.
func (c *Client) PullRequests(ctx context.Context, q PullRequestQuery) ([]types.PullRequest, error) {
	if c.cfg.Repository == "" {
		return nil, errors.New("repository is required to list pull requests")
	}
	refs := q.TargetRefs
	if len(refs) == 0 {
		refs = c.cfg.TargetRefs
	}
	status := q.Status
	if status == "" {
		status = "all"
	}
	slog.Info("Fetching pull requests", "component", "api", "repo", c.cfg.Repository,
		"refs", refs, "status", status, "from", q.From, "to", q.To)

	perRef := make([][]types.PullRequest, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			prs, err := c.pullRequestsForRef(gctx, ref, status, q.From, q.To)
			if err != nil {
				return fmt.Errorf("target %s: %w", ref, err)
			}
			perRef[i] = prs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	var out []types.PullRequest
	for _, prs := range perRef {
		for _, pr := range prs {
			if seen[pr.ID] {
				continue
			}
			seen[pr.ID] = true
			out = append(out, pr)
		}
	}
	return out, nil
}

func (c *Client) pullRequestsForRef(ctx context.Context, ref, status string, from, to time.Time) ([]types.PullRequest, error) {
	key := c.key("prs", c.cfg.Repository, ref, status, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	return cacheGet(ctx, c, key, false, func(ctx context.Context) ([]types.PullRequest, error) {
		var all []types.PullRequest
		for page := 0; ; page++ {
			if page >= MaxPages {
				return nil, &PagingError{Endpoint: "pullrequests", Pages: MaxPages}
			}
			params := url.Values{
				"searchCriteria.status":        {status},
				"searchCriteria.targetRefName": {ref},
				"$top":                         {strconv.Itoa(prPageSize)},
				"$skip":                        {strconv.Itoa(page * prPageSize)},
			}
			if !from.IsZero() || !to.IsZero() {
				params.Set("searchCriteria.queryTimeRangeType", "created")
			}
			if !from.IsZero() {
				params.Set("searchCriteria.minTime", from.UTC().Format(time.RFC3339))
			}
			if !to.IsZero() {
				params.Set("searchCriteria.maxTime", to.UTC().Format(time.RFC3339))
			}
			resp, err := c.fetcher.FetchJSON(ctx, fetch.Request{URL: c.repoURL("pullrequests", params)})
			if err != nil {
				return nil, fmt.Errorf("pullrequests page %d: %w", page+1, err)
			}
			prs, err := types.DecodeList[types.PullRequest](resp.Body)
			if err != nil {
				return nil, invalid(fmt.Sprintf("pullrequests page %d", page+1), err)
			}
			all = append(all, prs...)
			if len(prs) < prPageSize {
				return all, nil
			}
		}
	})
}

func (c *Client) repoURL(path string, params url.Values) string {
	return c.projectURL("git/repositories/"+url.PathEscape(c.cfg.Repository)+"/"+path, params)
}

func (c *Client) prURL(prID int, sub string) string {
	return c.repoURL("pullRequests/"+strconv.Itoa(prID)+"/"+sub, nil)
}

// PRThreads lists the discussion threads of a pull request.
func (c *Client) PRThreads(ctx context.Context, prID int) ([]types.PRThread, error) {
	return fetchList[types.PRThread](ctx, c, c.key("pr-threads", c.cfg.Repository, prID),
		"pr threads", fetch.Request{URL: c.prURL(prID, "threads")}, false)
}

// PRReviewers lists the reviewers of a pull request with their votes.
func (c *Client) PRReviewers(ctx context.Context, prID int) ([]types.PRReviewer, error) {
	return fetchList[types.PRReviewer](ctx, c, c.key("pr-reviewers", c.cfg.Repository, prID),
		"pr reviewers", fetch.Request{URL: c.prURL(prID, "reviewers")}, false)
}

// PRIterations lists the pushed iterations of a pull request.
func (c *Client) PRIterations(ctx context.Context, prID int) ([]types.PRIteration, error) {
	return fetchList[types.PRIteration](ctx, c, c.key("pr-iterations", c.cfg.Repository, prID),
		"pr iterations", fetch.Request{URL: c.prURL(prID, "iterations")}, false)
}

// PRWorkItems lists the work items linked to a pull request.
func (c *Client) PRWorkItems(ctx context.Context, prID int) ([]types.ResourceRef, error) {
	return fetchList[types.ResourceRef](ctx, c, c.key("pr-workitems", c.cfg.Repository, prID),
		"pr work items", fetch.Request{URL: c.prURL(prID, "workitems")}, false)
}

// PolicyEvaluations lists the branch policy evaluations of a pull request.
// projectID is the project GUID, see ProjectID.
func (c *Client) PolicyEvaluations(ctx context.Context, projectID string, prID int) ([]types.PolicyEvaluation, error) {
	params := url.Values{
		"artifactId":  {fmt.Sprintf("vstfs:///CodeReview/CodeReviewId/%s/%d", projectID, prID)},
		"api-version": {c.cfg.APIVersion + "-preview.1"},
	}
	return fetchList[types.PolicyEvaluation](ctx, c, c.key("pr-policy", projectID, prID),
		"policy evaluations", fetch.Request{URL: c.projectURL("policy/evaluations", params)}, false)
}

// ProjectID resolves the configured project's GUID.
func (c *Client) ProjectID(ctx context.Context) (string, error) {
	req := fetch.Request{URL: c.orgURL("projects/"+url.PathEscape(c.cfg.Project), nil)}
	p, err := fetchOne[types.Project](ctx, c, c.key("project"), "project", req, false)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
