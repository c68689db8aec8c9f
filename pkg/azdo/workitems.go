package azdo

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/devflow/pkg/fetch"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

// QueryByWIQL runs a work item query and returns the matching ids in result order.
func (c *Client) QueryByWIQL(ctx context.Context, query string) ([]int, error) {
	slog.Info("Running work item query", "component", "api", "project", c.cfg.Project)
	req := fetch.Request{
		Method: http.MethodPost,
		URL:    c.projectURL("wit/wiql", nil),
		Body:   map[string]string{"query": query},
	}
	result, err := fetchOne[types.QueryResult](ctx, c, c.key("wiql", query), "wiql", req, false)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(result.WorkItems))
	for i, ref := range result.WorkItems {
		ids[i] = ref.ID
	}
	return ids, nil
}

// WorkItemsBatch fetches work items in chunks of BatchLimit, concurrently, and returns
// them in the order of ids. Duplicate ids are fetched once; items the service returns
// for ids that were not requested are dropped, and ids it omits are missing from the result.
func (c *Client) WorkItemsBatch(ctx context.Context, ids []int, fields []string) ([]types.WorkItem, error) {
	unique := dedupeInts(ids)
	if len(unique) == 0 {
		return nil, nil
	}
	chunks := slices.Collect(slices.Chunk(unique, BatchLimit))
	slog.Info("Fetching work items", "component", "api", "count", len(unique), "chunks", len(chunks))

	results := make([][]types.WorkItem, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		g.Go(func() error {
			body := map[string]any{"ids": chunk, "errorPolicy": "omit"}
			if len(fields) > 0 {
				body["fields"] = fields
			}
			req := fetch.Request{Method: http.MethodPost, URL: c.projectURL("wit/workitemsbatch", nil), Body: body}
			// errorPolicy omit answers unresolvable ids with null entries.
			items, err := fetchListWith(gctx, c, c.key("wi-batch", chunk, fields), "workitemsbatch", req, false,
				types.DecodeSparseList[types.WorkItem])
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[int]types.WorkItem, len(unique))
	for _, items := range results {
		for _, item := range items {
			byID[item.ID] = item
		}
	}
	out := make([]types.WorkItem, 0, len(unique))
	for _, id := range unique {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	if len(out) < len(unique) {
		slog.Debug("Service omitted work items", "component", "api", "requested", len(unique), "returned", len(out))
	}
	return out, nil
}

// WorkItemUpdates returns the full revision history of a work item sorted by revision
// time. Updates with an unparseable revisedDate sort first.
func (c *Client) WorkItemUpdates(ctx context.Context, id int) ([]types.WorkItemUpdate, error) {
	endpoint := fmt.Sprintf("workItems/%d/updates", id)
	return cacheGet(ctx, c, c.key("wi-updates", id), false, func(ctx context.Context) ([]types.WorkItemUpdate, error) {
		updates, err := fetchContinuation[types.WorkItemUpdate](ctx, c, endpoint, func(token string) string {
			params := url.Values{"$top": {strconv.Itoa(BatchLimit)}}
			if token != "" {
				params.Set("continuationToken", token)
			}
			return c.projectURL("wit/workItems/"+strconv.Itoa(id)+"/updates", params)
		})
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(updates, func(a, b types.WorkItemUpdate) int {
			return cmp.Compare(revisedUnix(a), revisedUnix(b))
		})
		return updates, nil
	})
}

func revisedUnix(u types.WorkItemUpdate) int64 {
	t, ok := u.Revised()
	if !ok {
		return 0
	}
	return t.UnixMilli()
}

func dedupeInts(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
