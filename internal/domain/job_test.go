package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusQueued, JobStatusInProgress, true},
		{JobStatusQueued, JobStatusCompleted, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusQueued, true},
		{JobStatusInProgress, JobStatusInProgress, true},
		{JobStatusInProgress, JobStatusCompleted, true},
		{JobStatusInProgress, JobStatusFailed, true},
		{JobStatusInProgress, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusCompleted, JobStatusCompleted, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatusFailed, JobStatusInProgress, false},
		{JobStatusQueued, JobStatus("paused"), false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	if JobStatusQueued.IsTerminal() || JobStatusInProgress.IsTerminal() {
		t.Fatal("non-terminal status reported as terminal")
	}
	if !JobStatusCompleted.IsTerminal() || !JobStatusFailed.IsTerminal() {
		t.Fatal("terminal status reported as non-terminal")
	}
}
