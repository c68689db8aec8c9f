// Package timeline rebuilds a work item's state and assignee history from its update stream.
package timeline

import (
	"slices"
	"strings"
	"time"
)

// State is a normalized work item state, or a raw label that matched no category.
type State string

// Normalized states.
const (
	ToDo       State = "toDo"
	InProgress State = "inProgress"
	Done       State = "done"
	Unknown    State = "unknown"
)

// StateMapping lists the raw state names belonging to each category.
type StateMapping struct {
	ToDo       []string
	InProgress []string
	Done       []string
}

// DefaultStateMapping covers the stock Agile, Scrum, Basic and CMMI process templates.
func DefaultStateMapping() StateMapping {
	return StateMapping{
		ToDo:       []string{"New", "To Do", "Proposed", "Approved"},
		InProgress: []string{"Active", "In Progress", "Committed", "Doing", "Resolved"},
		Done:       []string{"Closed", "Done", "Completed"},
	}
}

// Normalize maps a raw state name, ignoring case. Unmatched names are returned unchanged.
func (m StateMapping) Normalize(raw string) State {
	for _, group := range []struct {
		names []string
		state State
	}{
		{m.ToDo, ToDo},
		{m.InProgress, InProgress},
		{m.Done, Done},
	} {
		for _, name := range group.names {
			if strings.EqualFold(name, raw) {
				return group.state
			}
		}
	}
	return State(raw)
}

// Event is one point in the update stream. Nil fields were not part of the update;
// an Assignee pointing at "" clears the assignment.
type Event struct {
	At       time.Time
	State    *string
	Assignee *string
}

// Segment is a maximal interval with constant state and assignee.
// The final segment of a history may be an instant (Start == End).
type Segment struct {
	Start    time.Time
	End      time.Time
	State    State
	Assignee string
}

// Duration returns End - Start.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Window is a half-open time range [From, To). A zero bound is unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return (w.From.IsZero() || !t.Before(w.From)) && (w.To.IsZero() || t.Before(w.To))
}

// Build turns events into segments. Events with a zero time are discarded, events
// sharing a timestamp are merged with later ones winning, and a boundary is cut only
// when the (state, assignee) pair changes. The last segment ends at the last event.
// A non-nil window clips the result.
func Build(events []Event, mapping StateMapping, window *Window) []Segment {
	merged := mergeEvents(events)
	if len(merged) == 0 {
		return nil
	}

	rawState := string(Unknown)
	assignee := ""
	var segments []Segment
	for _, ev := range merged {
		if ev.State != nil {
			rawState = *ev.State
		}
		if ev.Assignee != nil {
			assignee = *ev.Assignee
		}
		state := Unknown
		if rawState != string(Unknown) {
			state = mapping.Normalize(rawState)
		}

		if n := len(segments); n > 0 {
			last := &segments[n-1]
			last.End = ev.At
			if last.State == state && last.Assignee == assignee {
				continue
			}
		}
		segments = append(segments, Segment{Start: ev.At, End: ev.At, State: state, Assignee: assignee})
	}

	if window != nil {
		return Clip(segments, *window)
	}
	return segments
}

func mergeEvents(events []Event) []Event {
	valid := make([]Event, 0, len(events))
	for _, ev := range events {
		if !ev.At.IsZero() {
			valid = append(valid, ev)
		}
	}
	slices.SortStableFunc(valid, func(a, b Event) int {
		return a.At.Compare(b.At)
	})

	var out []Event
	for _, ev := range valid {
		if n := len(out); n > 0 && out[n-1].At.Equal(ev.At) {
			if ev.State != nil {
				out[n-1].State = ev.State
			}
			if ev.Assignee != nil {
				out[n-1].Assignee = ev.Assignee
			}
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clip truncates segments to the window. Segments outside it are dropped, as are
// segments clipping reduces to nothing; an instant inside the window is kept.
func Clip(segments []Segment, w Window) []Segment {
	var out []Segment
	for _, s := range segments {
		if s.Start.Equal(s.End) {
			if w.Contains(s.Start) {
				out = append(out, s)
			}
			continue
		}
		start, end := s.Start, s.End
		if !w.From.IsZero() {
			start = latest(start, w.From)
		}
		if !w.To.IsZero() {
			end = earliest(end, w.To)
		}
		if !end.After(start) {
			continue
		}
		s.Start, s.End = start, end
		out = append(out, s)
	}
	return out
}

// FirstEntry returns the start of the first segment in state.
func FirstEntry(segments []Segment, state State) (time.Time, bool) {
	for _, s := range segments {
		if s.State == state {
			return s.Start, true
		}
	}
	return time.Time{}, false
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
