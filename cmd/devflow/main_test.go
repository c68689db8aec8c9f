package main

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/azdo"
	"github.com/codeGROOVE-dev/devflow/pkg/metrics"
	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

var monday = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func stamp(t time.Time) string { return t.Format(time.RFC3339) }

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		from, to string
		days     int
		want     timeline.Window
		wantErr  bool
	}{
		{name: "defaults", days: 14, want: timeline.Window{From: now.AddDate(0, 0, -14), To: now}},
		{
			name: "explicit dates", from: "2024-03-01", to: "2024-03-08",
			want: timeline.Window{From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)},
		},
		{
			name: "rfc3339 end", to: "2024-03-08T10:00:00+02:00", days: 1,
			want: timeline.Window{From: time.Date(2024, 3, 7, 8, 0, 0, 0, time.UTC), To: time.Date(2024, 3, 8, 8, 0, 0, 0, time.UTC)},
		},
		{name: "bad date", from: "March 1", wantErr: true},
		{name: "end before start", from: "2024-03-08", to: "2024-03-01", wantErr: true},
		{name: "empty window", from: "2024-03-08", to: "2024-03-08", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWindow(tt.from, tt.to, tt.days, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseWindow() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (!got.From.Equal(tt.want.From) || !got.To.Equal(tt.want.To)) {
				t.Errorf("parseWindow() = %v..%v, want %v..%v", got.From, got.To, tt.want.From, tt.want.To)
			}
		})
	}
}

func TestIdentityFromField(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want types.IdentityRef
	}{
		{
			name: "object",
			in:   map[string]any{"id": "1", "displayName": "Ann", "uniqueName": "ann@example.com"},
			want: types.IdentityRef{ID: "1", DisplayName: "Ann", UniqueName: "ann@example.com"},
		},
		{name: "legacy string", in: "Ann Lee <ann@example.com>", want: types.IdentityRef{DisplayName: "Ann Lee", UniqueName: "ann@example.com"}},
		{name: "name only", in: " Ann ", want: types.IdentityRef{DisplayName: "Ann"}},
		{name: "missing", in: nil, want: types.IdentityRef{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := identityFromField(tt.in)
			if got.ID != tt.want.ID || got.DisplayName != tt.want.DisplayName || got.UniqueName != tt.want.UniqueName {
				t.Errorf("identityFromField() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

var (
	ann = types.IdentityRef{ID: "a1", DisplayName: "Ann", UniqueName: "ann@example.com"}
	bob = types.IdentityRef{ID: "b1", DisplayName: "Bob", UniqueName: "bob@example.com"}
	bot = types.IdentityRef{ID: "c1", DisplayName: "Build Bot", UniqueName: "ci-bot@example.com"}
)

func testDataset() *dataset {
	item := types.WorkItem{ID: 10, Fields: map[string]any{
		timeline.FieldAssignedTo:  map[string]any{"id": "a1", "displayName": "Ann", "uniqueName": "ann@example.com"},
		timeline.FieldCreatedDate: stamp(monday),
	}}
	segments := []timeline.Segment{
		{Start: monday, End: monday.Add(2 * time.Hour), State: timeline.InProgress},
		{Start: monday.Add(2 * time.Hour), End: monday.Add(2 * time.Hour), State: timeline.Done},
	}
	pr := metrics.PullRequestData{
		PR: types.PullRequest{ID: 7, CreatedBy: ann, CreationDate: stamp(monday), Status: "active"},
		Threads: []types.PRThread{{ID: 1, Comments: []types.PRComment{
			{Author: &bot, Content: "build queued", PublishedDate: stamp(monday.Add(time.Minute))},
			{Author: &bob, Content: "looks good", PublishedDate: stamp(monday.Add(time.Hour))},
		}}},
		Reviewers: []types.PRReviewer{{ID: "b1", DisplayName: "Bob", UniqueName: "bob@example.com", Vote: 10}},
	}
	return &dataset{
		Users:           []azdo.User{{ID: "c1", UniqueName: "ci-bot@example.com", ServiceAccount: true}},
		WorkItems:       []workItemRecord{{Item: item, Segments: segments}},
		PullRequests:    []metrics.PullRequestData{pr},
		LinkedWorkItems: map[int]int{7: 0},
		Areas:           []string{`\Proj`},
	}
}

func TestSummarize(t *testing.T) {
	window := timeline.Window{From: monday.AddDate(0, 0, -1), To: monday.AddDate(0, 0, 7)}
	rep := summarize(testDataset(), summarizeOptions{Window: window, MinSamples: 1})

	var keys []string
	for _, p := range rep.People {
		keys = append(keys, p.Person.Key())
	}
	if want := []string{"ann@example.com", "bob@example.com"}; !slices.Equal(keys, want) {
		t.Fatalf("people = %v, want %v", keys, want)
	}

	annRollup, bobRollup := rep.People[0], rep.People[1]
	if annRollup.WorkItems == nil || annRollup.WorkItems.Throughput != 1 {
		t.Errorf("ann work items = %+v, want throughput 1", annRollup.WorkItems)
	}
	if annRollup.Authored == nil || annRollup.Authored.TTFRN != 1 {
		t.Fatalf("ann authored = %+v, want one first response", annRollup.Authored)
	}
	// The bot's comment a minute in is not a response.
	if got := annRollup.Authored.TTFRAvg.Duration(); got != time.Hour {
		t.Errorf("ann TTFR = %v, want 1h", got)
	}
	if bobRollup.Review == nil || bobRollup.Review.Participated != 1 {
		t.Errorf("bob review = %+v, want one participation", bobRollup.Review)
	}
	if !slices.Equal(rep.UnlinkedPullRequests, []int{7}) {
		t.Errorf("UnlinkedPullRequests = %v, want [7]", rep.UnlinkedPullRequests)
	}
	if len(rep.Areas) != 1 {
		t.Errorf("Areas = %v, want one entry", rep.Areas)
	}
}

func TestSummarize_MinSamples(t *testing.T) {
	window := timeline.Window{From: monday.AddDate(0, 0, -1), To: monday.AddDate(0, 0, 7)}
	rep := summarize(testDataset(), summarizeOptions{Window: window, MinSamples: 2})
	if len(rep.People) != 0 {
		t.Errorf("people = %d, want 0 with one sample each", len(rep.People))
	}
}

func TestSummarize_CrossTeam(t *testing.T) {
	window := timeline.Window{From: monday.AddDate(0, 0, -1), To: monday.AddDate(0, 0, 7)}
	rep := summarize(testDataset(), summarizeOptions{
		Window:     window,
		MinSamples: 1,
		Teams:      map[string]string{"ann@example.com": "web", "bob@example.com": "platform"},
	})
	for _, p := range rep.People {
		if p.Person.Key() != "bob@example.com" {
			continue
		}
		if p.Review == nil || p.Review.CrossTeamPct == nil || *p.Review.CrossTeamPct != 100 {
			t.Errorf("bob review = %+v, want 100%% cross-team", p.Review)
		}
		return
	}
	t.Fatal("bob missing from report")
}

// fakeRemote serves canned data and records which endpoints were used.
type fakeRemote struct {
	calls      map[string]int
	query      string
	usersErr   error
	threadsErr error
	mu         sync.Mutex
}

func (f *fakeRemote) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeRemote) GraphUsers(context.Context, bool) ([]azdo.User, error) {
	f.hit("users")
	return nil, f.usersErr
}

func (f *fakeRemote) QueryByWIQL(_ context.Context, q string) ([]int, error) {
	f.hit("wiql")
	f.query = q
	return []int{1, 2}, nil
}

func (f *fakeRemote) WorkItemsBatch(_ context.Context, ids []int, _ []string) ([]types.WorkItem, error) {
	f.hit("batch")
	var out []types.WorkItem
	for _, id := range ids {
		out = append(out, types.WorkItem{ID: id, Fields: map[string]any{}})
	}
	return out, nil
}

func (f *fakeRemote) WorkItemUpdates(_ context.Context, id int) ([]types.WorkItemUpdate, error) {
	f.hit("updates")
	return []types.WorkItemUpdate{{
		RevisedDate: stamp(monday),
		Fields:      map[string]types.FieldChange{timeline.FieldState: {NewValue: []byte(`"Active"`)}},
		WorkItemID:  id,
	}}, nil
}

func (f *fakeRemote) PullRequests(context.Context, azdo.PullRequestQuery) ([]types.PullRequest, error) {
	f.hit("prs")
	return []types.PullRequest{{ID: 7, CreatedBy: ann, CreationDate: stamp(monday)}}, nil
}

func (f *fakeRemote) ProjectID(context.Context) (string, error) {
	f.hit("project")
	return "p1", nil
}

func (f *fakeRemote) PRThreads(context.Context, int) ([]types.PRThread, error) {
	f.hit("threads")
	return nil, f.threadsErr
}

func (f *fakeRemote) PRReviewers(context.Context, int) ([]types.PRReviewer, error) {
	f.hit("reviewers")
	return nil, nil
}

func (f *fakeRemote) PRIterations(context.Context, int) ([]types.PRIteration, error) {
	f.hit("iterations")
	return nil, nil
}

func (f *fakeRemote) PRWorkItems(context.Context, int) ([]types.ResourceRef, error) {
	f.hit("links")
	return []types.ResourceRef{{ID: "1"}}, nil
}

func (f *fakeRemote) PolicyEvaluations(context.Context, string, int) ([]types.PolicyEvaluation, error) {
	f.hit("policies")
	return nil, nil
}

func (f *fakeRemote) AreaPaths(context.Context, int) (types.AreaNode, error) {
	f.hit("areas")
	return types.AreaNode{Name: "Proj", Path: `\Proj`, Children: []types.AreaNode{{Name: "Web", Path: `\Proj\Web`}}}, nil
}

func TestCollect(t *testing.T) {
	f := &fakeRemote{usersErr: errors.New("forbidden")}
	window := timeline.Window{From: monday, To: monday.AddDate(0, 0, 7)}
	ds, err := collect(context.Background(), f, collectOptions{
		Window:     window,
		States:     timeline.DefaultStateMapping(),
		AreaDepth:  2,
		Repository: "web",
	})
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if !strings.Contains(f.query, "'2024-03-04'") {
		t.Errorf("default query = %q, want window start", f.query)
	}
	if len(ds.WorkItems) != 2 || len(ds.WorkItems[0].Segments) != 1 || ds.WorkItems[0].Segments[0].State != timeline.InProgress {
		t.Errorf("work items = %+v, want two items in progress", ds.WorkItems)
	}
	if f.calls["updates"] != 2 {
		t.Errorf("updates calls = %d, want 2", f.calls["updates"])
	}
	if len(ds.PullRequests) != 1 || ds.LinkedWorkItems[7] != 1 {
		t.Errorf("pull requests = %d, links = %v", len(ds.PullRequests), ds.LinkedWorkItems)
	}
	if !slices.Equal(ds.Areas, []string{`\Proj`, `\Proj\Web`}) {
		t.Errorf("Areas = %v", ds.Areas)
	}
}

func TestCollect_SkipsOptionalSources(t *testing.T) {
	f := &fakeRemote{}
	_, err := collect(context.Background(), f, collectOptions{
		Window:    timeline.Window{From: monday, To: monday.AddDate(0, 0, 7)},
		Query:     "SELECT [System.Id] FROM WorkItems",
		States:    timeline.DefaultStateMapping(),
		AreaDepth: -1,
	})
	if err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if f.query != "SELECT [System.Id] FROM WorkItems" {
		t.Errorf("query = %q, want custom query", f.query)
	}
	for _, name := range []string{"prs", "project", "areas"} {
		if f.calls[name] != 0 {
			t.Errorf("%s called %d times, want 0", name, f.calls[name])
		}
	}
}

func TestCollect_DetailError(t *testing.T) {
	f := &fakeRemote{threadsErr: errors.New("boom")}
	_, err := collect(context.Background(), f, collectOptions{
		Window:     timeline.Window{From: monday, To: monday.AddDate(0, 0, 7)},
		States:     timeline.DefaultStateMapping(),
		AreaDepth:  -1,
		Repository: "web",
	})
	if err == nil || !strings.Contains(err.Error(), "pull request 7") {
		t.Errorf("collect() error = %v, want pull request 7 failure", err)
	}
}
