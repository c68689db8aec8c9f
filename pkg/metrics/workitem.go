package metrics

import (
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/timeline"
)

// Millis is a duration in whole milliseconds.
type Millis int64

func toMillis(d time.Duration) Millis {
	return Millis(d.Milliseconds())
}

func millisPtr(d time.Duration) *Millis {
	m := toMillis(d)
	return &m
}

// Duration converts back to a time.Duration.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// WorkItemMetrics are the flow metrics of one work item.
type WorkItemMetrics struct {
	TimeInState map[timeline.State]Millis `json:"timeInStateMs"`
	LeadTime    *Millis                   `json:"leadTimeMs"`
	CycleTime   *Millis                   `json:"cycleTimeMs"`
	ID          int                       `json:"id"`
	Throughput  int                       `json:"throughput"`
	ReworkCount int                       `json:"reworkCount"`
	Completed   bool                      `json:"completed"`
}

// WorkItem computes flow metrics from an item's full, unclipped segments.
//
// Completed looks only at the final state, while Throughput counts an entry into
// done that happened inside window; an item finished before the window is
// Completed without contributing Throughput. Time in state is summed over the
// segments clipped to window. A nil window means all time.
func WorkItem(id int, segments []timeline.Segment, created time.Time, window *timeline.Window) WorkItemMetrics {
	m := WorkItemMetrics{ID: id, TimeInState: make(map[timeline.State]Millis)}
	if len(segments) == 0 {
		return m
	}

	m.Completed = segments[len(segments)-1].State == timeline.Done
	for i := 1; i < len(segments); i++ {
		prev, cur := segments[i-1].State, segments[i].State
		if cur == timeline.Done && prev != timeline.Done {
			if window == nil || window.Contains(segments[i].Start) {
				m.Throughput = 1
			}
		}
		if prev == timeline.Done && cur != timeline.Done {
			m.ReworkCount++
		}
	}

	doneAt, reachedDone := timeline.FirstEntry(segments, timeline.Done)
	if reachedDone && !created.IsZero() && !doneAt.Before(created) {
		m.LeadTime = millisPtr(doneAt.Sub(created))
	}
	if startedAt, started := timeline.FirstEntry(segments, timeline.InProgress); reachedDone && started && !doneAt.Before(startedAt) {
		m.CycleTime = millisPtr(doneAt.Sub(startedAt))
	}

	inWindow := segments
	if window != nil {
		inWindow = timeline.Clip(segments, *window)
	}
	for _, s := range inWindow {
		switch s.State {
		case timeline.ToDo, timeline.InProgress, timeline.Done:
			m.TimeInState[s.State] += toMillis(s.Duration())
		}
	}
	return m
}
