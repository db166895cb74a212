package logging

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

type temporaryError struct{ temporary bool }

func (e temporaryError) Error() string   { return "temporary" }
func (e temporaryError) Temporary() bool { return e.temporary }

func TestIsTransientError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), true},
		{"timeout", timeoutError{}, true},
		{"temporary", temporaryError{temporary: true}, true},
		{"not temporary", temporaryError{}, false},
		{"operation error", NewOperationError("cache.set.result", "req-1", timeoutError{}), true},
		{"plain", errors.New("constraint violation"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransientError(tc.err); got != tc.want {
				t.Fatalf("IsTransientError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
