package errs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsDetected(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", NewValidationError("depth", "must be <= 5"), IsValidation},
		{"not_found", NewNotFoundError("symbol", "Foo/bar"), IsNotFound},
		{"truncation", &TruncationError{Tokens: 9000, MaxTokens: 4000, Suggest: "narrow the query"}, IsTruncation},
		{"timeout", NewTimeoutError("initialize", "10s"), IsTimeout},
		{"terminated", NewTerminatedError("gopls", "exit status 1"), IsTerminated},
		{"io", NewIOError("write", "/tmp/x", fmt.Errorf("disk full")), IsIO},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.check(tc.err))
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestIOErrorUnwraps(t *testing.T) {
	inner := fmt.Errorf("permission denied")
	wrapped := NewIOError("read", "/etc/shadow", inner)

	ioErr, ok := wrapped.(*IOError)
	assert.True(t, ok)
	assert.Equal(t, inner, ioErr.Unwrap())
}

func TestCrossTypeChecksAreFalse(t *testing.T) {
	err := NewValidationError("x", "y")
	assert.False(t, IsNotFound(err))
	assert.False(t, IsTimeout(err))
	assert.False(t, IsTerminated(err))
	assert.False(t, IsIO(err))
}

func TestDeprecationNoticeIsNotAnErrorCheck(t *testing.T) {
	notice := &DeprecationNotice{Tool: "old_search", Message: "use search_for_pattern instead"}
	assert.Contains(t, notice.Error(), "deprecated")
}
