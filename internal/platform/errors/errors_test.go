package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name: "error with cause",
			err: Wrap(KindStorage, "file.set", "persist entry",
				errors.New("disk full")),
			contains: []string{"[storage:file.set]", "persist entry", "disk full"},
		},
		{
			name:     "error without cause",
			err:      New(KindAuth, "session.login", "token expired"),
			contains: []string{"[auth:session.login]", "token expired"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, substr := range tt.contains {
				if !strings.Contains(errStr, substr) {
					t.Errorf("error string %q does not contain %q", errStr, substr)
				}
			}
		})
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(KindConfig, "load", "noop", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapKeepsInnerKind(t *testing.T) {
	inner := New(KindTransport, "client.get", "status 500")
	outer := Wrap(KindAuth, "session.refresh", "refresh user", fmt.Errorf("call: %w", inner))

	if got := KindOf(outer); got != KindTransport {
		t.Fatalf("KindOf = %s, want %s", got, KindTransport)
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrappedErr := Wrap(KindConfig, "test", "wrapped", originalErr)

	if !errors.Is(wrappedErr, originalErr) {
		t.Error("Unwrap should return the original error")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "direct error kind match",
			err:      New(KindConfig, "test", "message"),
			kind:     KindConfig,
			expected: true,
		},
		{
			name:     "wrapped error kind match",
			err:      Wrap(KindNavigation, "test", "message", errors.New("cause")),
			kind:     KindNavigation,
			expected: true,
		},
		{
			name:     "error kind mismatch",
			err:      New(KindConfig, "test", "message"),
			kind:     KindValidation,
			expected: false,
		},
		{
			name:     "non-typed error",
			err:      errors.New("plain error"),
			kind:     KindConfig,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsKind(tt.err, tt.kind)
			if result != tt.expected {
				t.Errorf("IsKind() = %v, expected %v", result, tt.expected)
			}
		})
	}
}
