package timeline

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/devflow/pkg/types"
)

// Field reference names read from work item updates.
const (
	FieldState       = "System.State"
	FieldAssignedTo  = "System.AssignedTo"
	FieldChangedDate = "System.ChangedDate"
	FieldCreatedDate = "System.CreatedDate"
)

// EventsFromUpdates converts raw updates into events. The event time is the update's
// System.ChangedDate when present, else its revisedDate; updates with neither parseable
// are skipped.
func EventsFromUpdates(updates []types.WorkItemUpdate) []Event {
	events := make([]Event, 0, len(updates))
	for i := range updates {
		u := &updates[i]
		at, ok := updateTime(u)
		if !ok {
			slog.Debug("Skipping update with unparseable time", "component", "timeline",
				"work_item", u.WorkItemID, "rev", u.Rev, "revised_date", u.RevisedDate)
			continue
		}
		ev := Event{At: at}
		if change, ok := u.Fields[FieldState]; ok && hasValue(change.NewValue) {
			if s, ok := decodeString(change.NewValue); ok {
				ev.State = &s
			}
		}
		if change, ok := u.Fields[FieldAssignedTo]; ok {
			// A present field without a new value means the assignment was removed.
			name := ""
			if hasValue(change.NewValue) {
				name = decodeIdentity(change.NewValue)
			}
			ev.Assignee = &name
		}
		events = append(events, ev)
	}
	return events
}

func updateTime(u *types.WorkItemUpdate) (time.Time, bool) {
	if change, ok := u.Fields[FieldChangedDate]; ok && hasValue(change.NewValue) {
		if s, ok := decodeString(change.NewValue); ok {
			if t, ok := types.ParseTime(s); ok {
				return t, true
			}
		}
	}
	return u.Revised()
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeIdentity accepts either an identity object or a plain "Name <email>" string.
func decodeIdentity(raw json.RawMessage) string {
	if s, ok := decodeString(raw); ok {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return types.ValueString(v)
}
