package smtp

import (
	"errors"
	"fmt"
	"testing"
)

func TestResultForMapsSentinels(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
	}{
		{ErrParse, 501},
		{ErrBadSequence, 503},
		{ErrAuthRequired, 530},
		{ErrAuthFailed, 535},
		{errors.New("unrelated"), 500},
	}
	for _, c := range cases {
		r := ResultFor(c.err)
		if r.Code != c.wantCode {
			t.Errorf("ResultFor(%v).Code = %d, want %d", c.err, r.Code, c.wantCode)
		}
	}
}

func TestResultForUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrParse)
	if r := ResultFor(wrapped); r.Code != 501 {
		t.Fatalf("ResultFor(wrapped) = %d, want 501", r.Code)
	}
}

func TestErrorResultLineFormatsEnhancedCode(t *testing.T) {
	r := &ErrorResult{Code: 530, Enhanced: "5.7.0", Message: "Authentication required"}
	if got := r.Line(); got != "530 5.7.0 Authentication required" {
		t.Fatalf("Line() = %q", got)
	}
}

func TestErrorResultLineOmitsEnhancedCodeWhenAbsent(t *testing.T) {
	r := &ErrorResult{Code: 500, Message: "Command not recognised"}
	if got := r.Line(); got != "500 Command not recognised" {
		t.Fatalf("Line() = %q", got)
	}
}
