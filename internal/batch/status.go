package batch

import (
	"fmt"
	"strings"
)

// JobStatus is the locally tracked lifecycle state of a batch job.
type JobStatus string

const (
	// StatusConfigured means the run exists locally but no remote job was created yet.
	StatusConfigured    JobStatus = "CONFIGURED"
	StatusCreated       JobStatus = "CREATED"
	StatusRequestsAdded JobStatus = "REQUESTS_ADDED"
	StatusRunning       JobStatus = "RUNNING"
	StatusFinished      JobStatus = "FINISHED"
	StatusFailed        JobStatus = "FAILED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []JobStatus{StatusConfigured, StatusCreated, StatusRequestsAdded, StatusRunning, StatusFinished, StatusFailed}

// ParseStatus resolves a case-insensitive status name.
func ParseStatus(s string) (JobStatus, error) {
	want := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range Statuses {
		if st == want {
			return st, nil
		}
	}
	return "", &ConfigurationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

var transitions = map[JobStatus][]JobStatus{
	StatusConfigured:    {StatusCreated},
	StatusCreated:       {StatusRequestsAdded},
	StatusRequestsAdded: {StatusRequestsAdded, StatusRunning},
	StatusRunning:       {StatusRunning, StatusFinished},
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Advance validates a transition and returns an error wrapping
// ErrInvalidTransition when it is not allowed.
func Advance(from, to JobStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
