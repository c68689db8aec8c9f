package metrics

import (
	"math"
	"slices"

	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
)

// DefaultMinSamples is the sample size below which an aggregate is omitted.
const DefaultMinSamples = 3

// Summary describes a sample of durations.
type Summary struct {
	N      int    `json:"n"`
	Mean   Millis `json:"meanMs"`
	Median Millis `json:"medianMs"`
	P90    Millis `json:"p90Ms"`
}

// Summarize returns nil when samples has fewer than minSamples values.
func Summarize(samples []Millis, minSamples int) *Summary {
	if len(samples) == 0 || len(samples) < minSamples {
		return nil
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	return &Summary{
		N:      len(sorted),
		Mean:   *average(sorted),
		Median: percentile(sorted, 0.5),
		P90:    percentile(sorted, 0.9),
	}
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []Millis, p float64) Millis {
	rank := int(math.Ceil(p * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

// WorkItemRollup aggregates a person's work items.
type WorkItemRollup struct {
	TimeInState map[timeline.State]Millis `json:"timeInStateMs"`
	LeadTime    *Summary                  `json:"leadTime,omitempty"`
	CycleTime   *Summary                  `json:"cycleTime,omitempty"`
	Items       int                       `json:"items"`
	Completed   int                       `json:"completed"`
	Throughput  int                       `json:"throughput"`
	Rework      int                       `json:"rework"`
}

// PersonRollup is everything known about one person. Sections with too few samples are nil.
type PersonRollup struct {
	WorkItems *WorkItemRollup `json:"workItems,omitempty"`
	Authored  *AuthoredRollup `json:"authored,omitempty"`
	Review    *ReviewRollup   `json:"review,omitempty"`
	Person    Person          `json:"person"`
}

// AuthoredRollup adds distribution summaries to AuthoredMetrics.
type AuthoredRollup struct {
	TTFR     *Summary `json:"ttfr,omitempty"`
	Approval *Summary `json:"timeToApproval,omitempty"`
	Merge    *Summary `json:"timeToMerge,omitempty"`
	AuthoredMetrics
}

// ReviewRollup adds a distribution summary to ReviewMetrics.
type ReviewRollup struct {
	Responsiveness *Summary `json:"responsiveness,omitempty"`
	ReviewMetrics
}

// BuildRollup assembles a person's rollup, omitting any aggregate whose sample
// size is below minSamples.
func BuildRollup(person Person, items []WorkItemMetrics, authored AuthoredMetrics, review ReviewMetrics, minSamples int) PersonRollup {
	r := PersonRollup{Person: person}

	if len(items) > 0 && len(items) >= minSamples {
		w := &WorkItemRollup{Items: len(items), TimeInState: make(map[timeline.State]Millis)}
		var lead, cycle []Millis
		for _, it := range items {
			if it.Completed {
				w.Completed++
			}
			w.Throughput += it.Throughput
			w.Rework += it.ReworkCount
			if it.LeadTime != nil {
				lead = append(lead, *it.LeadTime)
			}
			if it.CycleTime != nil {
				cycle = append(cycle, *it.CycleTime)
			}
			for state, d := range it.TimeInState {
				w.TimeInState[state] += d
			}
		}
		w.LeadTime = Summarize(lead, minSamples)
		w.CycleTime = Summarize(cycle, minSamples)
		r.WorkItems = w
	}

	if authored.PRCount > 0 && authored.PRCount >= minSamples {
		r.Authored = &AuthoredRollup{
			AuthoredMetrics: authored,
			TTFR:            Summarize(authored.TTFR, minSamples),
			Approval:        Summarize(authored.Approval, minSamples),
			Merge:           Summarize(authored.Merge, minSamples),
		}
	}

	if review.Participated > 0 && review.Participated >= minSamples {
		r.Review = &ReviewRollup{
			ReviewMetrics:  review,
			Responsiveness: Summarize(review.Responsiveness, minSamples),
		}
	}
	return r
}
