package retry

import (
	"errors"
	"strings"
	"time"

	"github.com/rahvis/VideoForge/internal/provider"
)

// Policy drives per-segment retries: classification, capped
// exponential backoff, attempt budget.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// Retryable classifies an error. A typed provider.Error answers
// directly; the substring heuristic is only the fallback for opaque
// errors from the network stack or a provider SDK.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"no such host",
		"temporary failure",
		"rate limit",
		"too many requests",
		"status 429",
		"status 502",
		"status 503",
		"status 504",
		"unexpected eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Delay returns the backoff before the given attempt (1-based):
// min(base * multiplier^(attempt-1), max).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
