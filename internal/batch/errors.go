package batch

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a job status change would move a job
// backward or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ConfigurationError reports bad or missing local input. It is fatal to the
// phase that produced it and is recovered by correcting the input.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s %s", e.Field, e.Reason)
}

// TruncationWarning is informational: the run continues on the first Limit URLs.
type TruncationWarning struct {
	Limit   int
	Total   int
	Dropped int
}

func (w *TruncationWarning) String() string {
	return fmt.Sprintf("url list truncated to the first %d of %d entries (%d dropped)", w.Limit, w.Total, w.Dropped)
}
