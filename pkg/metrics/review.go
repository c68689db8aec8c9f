package metrics

import (
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
	"github.com/codeGROOVE-dev/devflow/pkg/types"
	"github.com/codeGROOVE-dev/devflow/pkg/worktime"
)

// ReviewOptions controls review metric computation.
type ReviewOptions struct {
	// AssignedAt returns when the person was asked to review, if known.
	// Pull request creation is used otherwise.
	AssignedAt func(d *PullRequestData, p Person) (time.Time, bool)
	// TeamOf resolves an identity's team.
	TeamOf   func(types.IdentityRef) (string, bool)
	Window   timeline.Window
	Schedule worktime.Schedule // default: worktime.Default
}

// ReviewMetrics summarize how one person reviews other people's pull requests.
type ReviewMetrics struct {
	ResponsivenessAvg *Millis  `json:"responsivenessAvgMs"`
	CommentsAvg       *float64 `json:"commentsAvg"`
	CrossTeamPct      *float64 `json:"crossTeamPct"`

	Responsiveness []Millis `json:"-"`

	Participated      int `json:"participated"`
	ResponsivenessN   int `json:"responsivenessN"`
	Comments          int `json:"comments"`
	CrossTeamEligible int `json:"crossTeamEligible"`
}

// Review computes a person's review metrics over pull requests created in the window.
// A pull request counts when the person commented on it or cast a non-zero vote;
// their own pull requests never count.
func Review(person Person, prs []PullRequestData, opts ReviewOptions) ReviewMetrics {
	schedule := opts.Schedule
	if schedule.IsZero() {
		schedule = worktime.Default
	}
	aliases := person.aliases()
	myTeam, myTeamOK := "", false
	if opts.TeamOf != nil {
		myTeam, myTeamOK = opts.TeamOf(types.IdentityRef{ID: person.ID, UniqueName: person.Email, DisplayName: person.DisplayName})
	}

	var m ReviewMetrics
	crossTeam := 0
	for i := range prs {
		d := &prs[i]
		if aliases.matches(d.PR.CreatedBy) {
			continue
		}
		created, ok := d.PR.Created()
		if !ok || !opts.Window.Contains(created) {
			continue
		}

		var mine []types.PRComment
		for _, c := range d.comments() {
			if c.Author != nil && !c.IsSystem() && aliases.matches(*c.Author) {
				mine = append(mine, c)
			}
		}
		voted := false
		for _, r := range d.Reviewers {
			if r.Vote != 0 && aliases.matches(r.Identity()) {
				voted = true
				break
			}
		}
		if len(mine) == 0 && !voted {
			continue
		}

		m.Participated++
		m.Comments += len(mine)

		start := created
		if opts.AssignedAt != nil {
			if t, ok := opts.AssignedAt(d, person); ok {
				start = t
			}
		}
		var first time.Time
		for _, c := range mine {
			t, ok := c.Published()
			if !ok || t.Before(start) {
				continue
			}
			if first.IsZero() || t.Before(first) {
				first = t
			}
		}
		if !first.IsZero() {
			m.Responsiveness = append(m.Responsiveness, toMillis(schedule.Duration(start, first)))
		}

		if myTeamOK && opts.TeamOf != nil {
			if authorTeam, ok := opts.TeamOf(d.PR.CreatedBy); ok {
				m.CrossTeamEligible++
				if authorTeam != myTeam {
					crossTeam++
				}
			}
		}
	}

	m.ResponsivenessN, m.ResponsivenessAvg = len(m.Responsiveness), average(m.Responsiveness)
	if m.Participated > 0 {
		avg := float64(m.Comments) / float64(m.Participated)
		m.CommentsAvg = &avg
	}
	if m.CrossTeamEligible > 0 {
		pct := 100 * float64(crossTeam) / float64(m.CrossTeamEligible)
		m.CrossTeamPct = &pct
	}
	return m
}
