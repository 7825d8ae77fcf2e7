package models

import (
	"fmt"
	"testing"
	"time"
)

func TestJobStatusChecks(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
	}{
		{StatusQueued, true, false},
		{StatusUploading, true, false},
		{StatusSubmitted, true, false},
		{StatusProcessing, true, false},
		{StatusCompleted, false, true},
		{StatusFailed, false, true},
		{StatusCanceled, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			j := &Job{Status: tt.status}
			if j.IsActive() != tt.active {
				t.Errorf("IsActive() = %v, want %v", j.IsActive(), tt.active)
			}
			if j.IsTerminal() != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", j.IsTerminal(), tt.terminal)
			}
		})
	}
}

func TestJobIsStale(t *testing.T) {
	j := &Job{
		Status:    StatusProcessing,
		UpdatedAt: time.Now().Add(-10 * time.Minute),
	}

	if !j.IsStale(5 * time.Minute) {
		t.Error("expected job stuck for 10m to be stale with a 5m timeout")
	}
	if j.IsStale(time.Hour) {
		t.Error("job within timeout should not be stale")
	}

	j.Status = StatusCompleted
	if j.IsStale(time.Nanosecond) {
		t.Error("terminal jobs are never stale")
	}
}

func TestJobFailAndAdvance(t *testing.T) {
	j := &Job{Status: StatusQueued}

	j.Fail(fmt.Errorf("upload rejected"))
	if j.Status != StatusFailed {
		t.Errorf("expected failed, got %s", j.Status)
	}
	if j.Error != "upload rejected" {
		t.Errorf("expected error to be recorded, got %q", j.Error)
	}

	j.Advance(StatusUploading)
	if j.Status != StatusUploading {
		t.Errorf("expected uploading, got %s", j.Status)
	}
	if j.Error != "" {
		t.Errorf("Advance should clear the error, got %q", j.Error)
	}
}

func TestJobClone(t *testing.T) {
	job := &Job{ID: "j1", Status: StatusQueued}
	clone := job.Clone()

	job.Advance(StatusProcessing)

	if clone.Status != StatusQueued {
		t.Errorf("clone followed the original, status %s", clone.Status)
	}
	if clone.ID != job.ID {
		t.Errorf("clone ID = %q, want %q", clone.ID, job.ID)
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input string
		want  Tier
	}{
		{"bronze", TierBronze},
		{"Silver", TierSilver},
		{"GOLD", TierGold},
		{" gold ", TierGold},
		{"", TierBronze},
		{"platinum", TierBronze},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseTier(tt.input); got != tt.want {
				t.Errorf("ParseTier(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestTierConcurrency(t *testing.T) {
	tests := []struct {
		tier Tier
		want int
	}{
		{TierBronze, 3},
		{TierSilver, 20},
		{TierGold, 100},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			if got := tt.tier.Concurrency(); got != tt.want {
				t.Errorf("Concurrency() = %d, want %d", got, tt.want)
			}
		})
	}
}
