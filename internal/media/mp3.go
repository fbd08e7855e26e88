package media

import (
	"bytes"
	"io"
	"time"

	"github.com/tcolgate/mp3"
)

// MP3Duration sums frame durations of an mp3 buffer. Used for the
// synthesized narration, which arrives as bytes before it ever touches
// disk; spawning ffprobe for that would be wasteful.
func MP3Duration(data []byte) time.Duration {
	decoder := mp3.NewDecoder(bytes.NewReader(data))
	var total time.Duration
	var frame mp3.Frame
	skipped := 0
	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if err == io.EOF {
				break
			}
			// Truncated or malformed tail: return what decoded so far.
			break
		}
		total += frame.Duration()
	}
	return total
}
