package isp

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesCode(t *testing.T) {
	err := NewError(CodeDeadObject, "stale buffer", map[string]any{"session": 1})
	wrapped := fmt.Errorf("put preview: %w", err)

	if !errors.Is(wrapped, ErrDeadObject) {
		t.Error("wrapped error should match ErrDeadObject")
	}
	if errors.Is(wrapped, ErrBadValue) {
		t.Error("wrapped error should not match ErrBadValue")
	}
	if !err.HasCode(CodeDeadObject) {
		t.Error("HasCode(CodeDeadObject) = false")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"isp error", NewError(CodeNotSupported, "x", nil), CodeNotSupported},
		{"wrapped", fmt.Errorf("ctx: %w", NewError(CodeNoMemory, "x", nil)), CodeNoMemory},
		{"foreign", errors.New("boom"), CodeUnknownError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("ioctl failed")
	err := unknownError("start preview", cause)
	if !strings.Contains(err.Error(), "UNKNOWN_ERROR") || !strings.Contains(err.Error(), "ioctl failed") {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable through Unwrap")
	}
}
