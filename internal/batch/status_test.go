package batch

import (
	"errors"
	"testing"
)

func TestJobStatus_Transitions(t *testing.T) {
	allowed := [][2]JobStatus{
		{StatusConfigured, StatusCreated},
		{StatusCreated, StatusRequestsAdded},
		{StatusRequestsAdded, StatusRequestsAdded},
		{StatusRequestsAdded, StatusRunning},
		{StatusRunning, StatusRunning},
		{StatusRunning, StatusFinished},
		{StatusConfigured, StatusFailed},
		{StatusCreated, StatusFailed},
		{StatusRunning, StatusFailed},
	}
	for _, tr := range allowed {
		if err := Advance(tr[0], tr[1]); err != nil {
			t.Errorf("expected %s -> %s to be allowed: %v", tr[0], tr[1], err)
		}
	}

	denied := [][2]JobStatus{
		{StatusCreated, StatusRunning}, // zero requests
		{StatusConfigured, StatusRunning},
		{StatusRunning, StatusRequestsAdded},
		{StatusFinished, StatusRunning},
		{StatusFinished, StatusFailed},
		{StatusFailed, StatusCreated},
	}
	for _, tr := range denied {
		err := Advance(tr[0], tr[1])
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected %s -> %s to be rejected, got %v", tr[0], tr[1], err)
		}
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	if !StatusFinished.Terminal() || !StatusFailed.Terminal() {
		t.Error("expected FINISHED and FAILED to be terminal")
	}
	if StatusRunning.Terminal() {
		t.Error("RUNNING is not terminal")
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" requests_added ")
	if err != nil || st != StatusRequestsAdded {
		t.Errorf("expected REQUESTS_ADDED, got %q (%v)", st, err)
	}

	_, err = ParseStatus("paused")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
