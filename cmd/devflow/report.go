package main

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/azdo"
	"github.com/codeGROOVE-dev/devflow/pkg/config"
	"github.com/codeGROOVE-dev/devflow/pkg/metrics"
	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
	"github.com/codeGROOVE-dev/devflow/pkg/worktime"
)

type summarizeOptions struct {
	Teams          config.Teams
	ServiceAccount *azdo.ServiceAccounts
	Window         timeline.Window
	Schedule       worktime.Schedule
	MinSamples     int
}

type report struct {
	From                 time.Time              `json:"from"`
	To                   time.Time              `json:"to"`
	People               []metrics.PersonRollup `json:"people"`
	UnlinkedPullRequests []int                  `json:"unlinkedPullRequests,omitempty"`
	Areas                []string               `json:"areas,omitempty"`
}

// roster tracks every person seen and what is attributed to them.
type roster struct {
	people   map[string]*metrics.Person
	items    map[string][]metrics.WorkItemMetrics
	authored map[string][]metrics.PullRequestData
	skip     func(types.IdentityRef) bool
}

func (r *roster) add(ref types.IdentityRef) string {
	key := metrics.IdentityKey(ref)
	if key == "" || r.skip(ref) {
		return ""
	}
	p, ok := r.people[key]
	if !ok {
		np := metrics.PersonFromIdentity(ref)
		r.people[key] = &np
		return key
	}
	if p.ID == "" {
		p.ID = ref.ID
	}
	if p.DisplayName == "" {
		p.DisplayName = ref.DisplayName
	}
	return key
}

func summarize(ds *dataset, opts summarizeOptions) report {
	rep := report{From: opts.Window.From, To: opts.Window.To, Areas: ds.Areas}

	flagged := make(map[string]bool)
	for _, u := range ds.Users {
		if u.ServiceAccount {
			flagged[metrics.IdentityKey(u.Identity())] = true
		}
	}
	isService := func(ref types.IdentityRef) bool {
		return flagged[metrics.IdentityKey(ref)] || opts.ServiceAccount.MatchIdentity(ref)
	}

	r := &roster{
		people:   make(map[string]*metrics.Person),
		items:    make(map[string][]metrics.WorkItemMetrics),
		authored: make(map[string][]metrics.PullRequestData),
		skip:     isService,
	}

	for _, rec := range ds.WorkItems {
		ref := identityFromField(rec.Item.Fields[timeline.FieldAssignedTo])
		key := r.add(ref)
		if key == "" {
			continue
		}
		created, _ := rec.Item.TimeField(timeline.FieldCreatedDate)
		m := metrics.WorkItem(rec.Item.ID, rec.Segments, created, &opts.Window)
		r.items[key] = append(r.items[key], m)
	}

	for _, d := range ds.PullRequests {
		if key := r.add(d.PR.CreatedBy); key != "" {
			r.authored[key] = append(r.authored[key], d)
		}
		for _, rv := range d.Reviewers {
			r.add(rv.Identity())
		}
		for _, th := range d.Threads {
			for _, c := range th.Comments {
				if c.Author != nil && !c.IsSystem() {
					r.add(*c.Author)
				}
			}
		}
		if n, ok := ds.LinkedWorkItems[d.PR.ID]; ok && n == 0 {
			rep.UnlinkedPullRequests = append(rep.UnlinkedPullRequests, d.PR.ID)
		}
	}
	slices.Sort(rep.UnlinkedPullRequests)

	var teamOf func(types.IdentityRef) (string, bool)
	if len(opts.Teams) > 0 {
		teamOf = func(ref types.IdentityRef) (string, bool) {
			return opts.Teams.Lookup(metrics.IdentityKey(ref))
		}
	}
	authoredOpts := metrics.AuthoredOptions{ServiceAccount: isService, Window: opts.Window, Schedule: opts.Schedule}
	reviewOpts := metrics.ReviewOptions{TeamOf: teamOf, Window: opts.Window, Schedule: opts.Schedule}

	keys := make([]string, 0, len(r.people))
	for k := range r.people {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		p := *r.people[key]
		authored := metrics.Authored(r.authored[key], authoredOpts)
		review := metrics.Review(p, ds.PullRequests, reviewOpts)
		roll := metrics.BuildRollup(p, r.items[key], authored, review, opts.MinSamples)
		if roll.WorkItems == nil && roll.Authored == nil && roll.Review == nil {
			slog.Debug("Too few samples for person", "component", "cli", "person", key)
			continue
		}
		rep.People = append(rep.People, roll)
	}
	return rep
}

// identityFromField reads an identity-valued work item field. Older payloads
// carry "Display Name <unique@name>" strings instead of objects.
func identityFromField(v any) types.IdentityRef {
	switch val := v.(type) {
	case map[string]any:
		var ref types.IdentityRef
		ref.ID, _ = val["id"].(string)
		ref.DisplayName, _ = val["displayName"].(string)
		ref.UniqueName, _ = val["uniqueName"].(string)
		ref.Descriptor, _ = val["descriptor"].(string)
		return ref
	case string:
		name, rest, ok := strings.Cut(val, "<")
		if !ok {
			return types.IdentityRef{DisplayName: strings.TrimSpace(val)}
		}
		return types.IdentityRef{
			DisplayName: strings.TrimSpace(name),
			UniqueName:  strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), ">")),
		}
	default:
		return types.IdentityRef{}
	}
}
