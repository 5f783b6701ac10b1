package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestRecordErrorUnwraps(t *testing.T) {
	err := NewRecordError(ErrMalformedRecord, 7, "bad line")
	if !errors.Is(err, ErrMalformedRecord) {
		t.Error("RecordError should unwrap to its sentinel")
	}
	msg := err.Error()
	if msg == "" || !errors.Is(fmt.Errorf("stage: %w", err), ErrMalformedRecord) {
		t.Errorf("message/wrapping broken: %q", msg)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrKeyNotFound, false},
		{ErrAlignmentFailed, false},
		{fmt.Errorf("pair 3:17: %w", ErrAlignmentFailed), false},
		{ErrMalformedRecord, true},
		{errors.New("disk on fire"), true},
	}
	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.want {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
