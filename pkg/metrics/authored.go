package metrics

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
	"github.com/codeGROOVE-dev/devflow/pkg/worktime"
)

// Minimum vote counted as approval (5 approved with suggestions, 10 approved).
const approvalVote = 5

var readyPattern = regexp.MustCompile(`(?i)(ready for review|marked (this |the )?(pull request|pr) as ready|` +
	`published (this |the )?pull request|no longer (a )?draft|removed (the )?draft|draft (mode )?removed)`)

// PullRequestData bundles a pull request with the details metrics read.
type PullRequestData struct {
	PR          types.PullRequest
	Threads     []types.PRThread
	Reviewers   []types.PRReviewer
	Iterations  []types.PRIteration
	Evaluations []types.PolicyEvaluation
}

// comments returns every comment across all threads.
func (d *PullRequestData) comments() []types.PRComment {
	var out []types.PRComment
	for _, th := range d.Threads {
		out = append(out, th.Comments...)
	}
	return out
}

// AuthoredOptions controls which pull requests count and how time is measured.
type AuthoredOptions struct {
	IsDraft        func(types.PullRequest) bool // default: PullRequest.Draft
	ServiceAccount func(types.IdentityRef) bool // comments by these never count as responses
	Window         timeline.Window
	Schedule       worktime.Schedule // default: worktime.Default
}

// AuthoredMetrics summarize the pull requests one person opened.
type AuthoredMetrics struct {
	TTFRAvg       *Millis  `json:"ttfrAvgMs"`
	ApprovalAvg   *Millis  `json:"timeToApprovalAvgMs"`
	MergeAvg      *Millis  `json:"timeToMergeAvgMs"`
	IterationsAvg *float64 `json:"iterationsAvg"`
	CIPassRate    *float64 `json:"ciPassRate"`

	TTFR     []Millis `json:"-"`
	Approval []Millis `json:"-"`
	Merge    []Millis `json:"-"`

	PRCount int `json:"prCount"`
	TTFRN   int `json:"ttfrN"`
	// ApprovalHeuristicN counts approval times inferred from votes and comments
	// because no reviewer policy data existed. Those values are approximate.
	ApprovalN          int `json:"approvalN"`
	ApprovalHeuristicN int `json:"approvalHeuristicN"`
	MergeN             int `json:"mergeN"`
	CIEvaluations      int `json:"ciEvaluations"`
}

// Authored computes metrics over one person's pull requests. Drafts and pull requests
// created outside the window are ignored. Durations are business time.
func Authored(prs []PullRequestData, opts AuthoredOptions) AuthoredMetrics {
	isDraft := opts.IsDraft
	if isDraft == nil {
		isDraft = types.PullRequest.Draft
	}
	schedule := opts.Schedule
	if schedule.IsZero() {
		schedule = worktime.Default
	}

	var m AuthoredMetrics
	var iterations, iterationPRs, ciPassed int
	for i := range prs {
		d := &prs[i]
		created, ok := d.PR.Created()
		if !ok {
			slog.Debug("Skipping pull request with unparseable creation date", "component", "metrics", "pr", d.PR.ID)
			continue
		}
		if !opts.Window.Contains(created) || isDraft(d.PR) {
			continue
		}
		m.PRCount++

		start := effectiveStart(d, created)
		if t, ok := firstResponse(d, start, opts.ServiceAccount); ok {
			m.TTFR = append(m.TTFR, toMillis(schedule.Duration(start, t)))
		}

		if approved, heuristic, ok := approvalTime(d); ok && !approved.Before(created) {
			m.Approval = append(m.Approval, toMillis(schedule.Duration(created, approved)))
			if heuristic {
				m.ApprovalHeuristicN++
			}
		}

		if strings.EqualFold(d.PR.Status, "completed") {
			if closed, ok := d.PR.Closed(); ok && !closed.Before(created) {
				m.Merge = append(m.Merge, toMillis(schedule.Duration(created, closed)))
			}
		}

		if len(d.Iterations) > 0 {
			iterations += len(d.Iterations)
			iterationPRs++
		}

		for _, e := range d.Evaluations {
			if !isBuildPolicy(e) {
				continue
			}
			if _, done := e.Completed(); !done {
				continue
			}
			m.CIEvaluations++
			if strings.EqualFold(e.Status, "approved") {
				ciPassed++
			}
		}
	}

	m.TTFRN, m.TTFRAvg = len(m.TTFR), average(m.TTFR)
	m.ApprovalN, m.ApprovalAvg = len(m.Approval), average(m.Approval)
	m.MergeN, m.MergeAvg = len(m.Merge), average(m.Merge)
	if iterationPRs > 0 {
		avg := float64(iterations) / float64(iterationPRs)
		m.IterationsAvg = &avg
	}
	if m.CIEvaluations > 0 {
		rate := float64(ciPassed) / float64(m.CIEvaluations)
		m.CIPassRate = &rate
	}
	return m
}

// effectiveStart is the later of creation and the last ready-for-review announcement.
func effectiveStart(d *PullRequestData, created time.Time) time.Time {
	start := created
	for _, c := range d.comments() {
		if !readyPattern.MatchString(c.Content) {
			continue
		}
		if t, ok := c.Published(); ok && t.After(start) {
			start = t
		}
	}
	return start
}

// firstResponse is the earliest human comment by someone other than the author,
// at or after the effective start.
func firstResponse(d *PullRequestData, start time.Time, serviceAccount func(types.IdentityRef) bool) (time.Time, bool) {
	author := IdentityKey(d.PR.CreatedBy)

	var first time.Time
	for _, c := range d.comments() {
		if c.IsSystem() || c.Author == nil {
			continue
		}
		if IdentityKey(*c.Author) == author {
			continue
		}
		if serviceAccount != nil && serviceAccount(*c.Author) {
			continue
		}
		t, ok := c.Published()
		if !ok || t.Before(start) {
			continue
		}
		if first.IsZero() || t.Before(first) {
			first = t
		}
	}
	return first, !first.IsZero()
}

func isReviewerPolicy(e types.PolicyEvaluation) bool {
	return strings.Contains(e.TypeName(), "reviewer")
}

func isBuildPolicy(e types.PolicyEvaluation) bool {
	return strings.Contains(e.TypeName(), "build")
}

// approvalTime prefers reviewer policy evaluations. Without any, it falls back to a
// heuristic: every reviewer voted to approve, and approval happened at the latest of
// their first comments.
func approvalTime(d *PullRequestData) (at time.Time, heuristic, ok bool) {
	sawPolicy := false
	for _, e := range d.Evaluations {
		if !isReviewerPolicy(e) {
			continue
		}
		sawPolicy = true
		if !strings.EqualFold(e.Status, "approved") {
			continue
		}
		t, ok := e.Completed()
		if !ok {
			t, ok = types.ParseTime(e.StartedDate)
		}
		if ok && (at.IsZero() || t.Before(at)) {
			at = t
		}
	}
	if sawPolicy {
		return at, false, !at.IsZero()
	}

	if len(d.Reviewers) == 0 {
		return time.Time{}, false, false
	}
	comments := d.comments()
	for _, r := range d.Reviewers {
		if r.Vote < approvalVote {
			return time.Time{}, false, false
		}
		key := IdentityKey(r.Identity())
		var earliest time.Time
		for _, c := range comments {
			if c.IsSystem() || c.Author == nil || IdentityKey(*c.Author) != key {
				continue
			}
			if t, ok := c.Published(); ok && (earliest.IsZero() || t.Before(earliest)) {
				earliest = t
			}
		}
		if earliest.IsZero() {
			return time.Time{}, false, false
		}
		if earliest.After(at) {
			at = earliest
		}
	}
	return at, true, true
}

func average(samples []Millis) *Millis {
	if len(samples) == 0 {
		return nil
	}
	var sum int64
	for _, s := range samples {
		sum += int64(s)
	}
	avg := Millis(sum / int64(len(samples)))
	return &avg
}
