package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 30.0, parseFrameRate("30/1"), 0.001)
	assert.InDelta(t, 29.97, parseFrameRate("30000/1001"), 0.01)
	assert.InDelta(t, 24.0, parseFrameRate("24"), 0.001)
	assert.Zero(t, parseFrameRate("bad/0"))
	assert.Zero(t, parseFrameRate(""))
}

func TestToolchainErrorMessage(t *testing.T) {
	err := &ToolchainError{Op: "stitch", Stderr: "No such filter: 'xfade'", Err: errors.New("exit status 1")}
	msg := err.Error()
	assert.Contains(t, msg, "stitch")
	assert.Contains(t, msg, "xfade")
	assert.Contains(t, msg, "exit status 1")
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 10))
	assert.Equal(t, "cde", tail("abcde", 3))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "0.500", formatSeconds(0.5))
	assert.Equal(t, "11.500", formatSeconds(11.5))
}
