package types

import "time"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime parses a service timestamp. Values without a zone are taken as UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Created returns the pull request creation time.
func (p PullRequest) Created() (time.Time, bool) {
	return ParseTime(p.CreationDate)
}

// Closed returns the pull request close time, if any.
func (p PullRequest) Closed() (time.Time, bool) {
	return ParseTime(p.ClosedDate)
}

// Published returns the comment publish time.
func (c PRComment) Published() (time.Time, bool) {
	return ParseTime(c.PublishedDate)
}

// Completed returns when the evaluation finished, if it has.
func (e PolicyEvaluation) Completed() (time.Time, bool) {
	return ParseTime(e.CompletedDate)
}

// Revised returns the update's revision time.
func (u WorkItemUpdate) Revised() (time.Time, bool) {
	return ParseTime(u.RevisedDate)
}

// TimeField returns a work item date field.
func (w WorkItem) TimeField(name string) (time.Time, bool) {
	s, ok := w.Fields[name].(string)
	if !ok {
		return time.Time{}, false
	}
	return ParseTime(s)
}
