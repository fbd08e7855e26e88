package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rahvis/VideoForge/internal/provider"

	"github.com/stretchr/testify/assert"
)

func TestRetryableTypedError(t *testing.T) {
	transient := &provider.Error{Code: "UPSTREAM_503", Retryable: true}
	fatal := &provider.Error{Code: "BAD_CREDENTIALS", Retryable: false}

	assert.True(t, Retryable(transient))
	assert.False(t, Retryable(fatal))
	assert.True(t, Retryable(fmt.Errorf("poll segment: %w", transient)), "wrapping keeps the tag")
}

func TestRetryableHeuristic(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("dial tcp: i/o timeout"), true},
		{errors.New("read: connection reset by peer"), true},
		{errors.New("lookup api.example.com: no such host"), true},
		{errors.New("provider returned status 503"), true},
		{errors.New("provider returned status 429"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("request timed out"), true},
		{errors.New("invalid api key"), false},
		{errors.New("quota exhausted for project"), false},
		{nil, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Retryable(tc.err), "classify %v", tc.err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 30*time.Second, p.Delay(10), "delay caps at maxDelay")
	assert.Equal(t, 3, p.MaxAttempts)
}
