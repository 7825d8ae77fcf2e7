package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAppError(t *testing.T) {
	err := InvalidInput("test.Op", nil, "bad input")

	if err.Code != http.StatusBadRequest {
		t.Errorf("expected code %d, got %d", http.StatusBadRequest, err.Code)
	}
	if err.Error() != "bad input" {
		t.Errorf("expected error string 'bad input', got '%s'", err.Error())
	}
}

func TestAppErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := BadGateway("test.Op", cause, "upstream unavailable")

	expected := "upstream unavailable: connection refused"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap() did not return the cause")
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "not found error",
			err:      NotFound("op", nil, "job not found"),
			expected: true,
		},
		{
			name:     "wrapped not found error",
			err:      fmt.Errorf("lookup: %w", NotFound("op", nil, "job not found")),
			expected: true,
		},
		{
			name:     "other app error",
			err:      Internal("op", nil, "boom"),
			expected: false,
		},
		{
			name:     "plain error",
			err:      fmt.Errorf("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.expected {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "rate limited",
			err:      RateLimitExceeded("op"),
			expected: http.StatusTooManyRequests,
		},
		{
			name:     "conflict",
			err:      Conflict("op", nil, "not ready"),
			expected: http.StatusConflict,
		},
		{
			name:     "plain error defaults to 500",
			err:      fmt.Errorf("boom"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.expected {
				t.Errorf("Code() = %d, want %d", got, tt.expected)
			}
		})
	}
}
