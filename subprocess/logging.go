package subprocess

import (
	"bytes"
	"strings"
	"sync"

	"github.com/livepeer/catalyst-audio/log"
)

// OutputTail is an io.Writer for a subprocess's output. Each complete line is logged against the
// request at verbosity 6 and the last few lines are kept for error messages.
type OutputTail struct {
	requestID string
	keep      int

	mu      sync.Mutex
	partial []byte
	lines   []string
}

func NewOutputTail(requestID string, keep int) *OutputTail {
	return &OutputTail{requestID: requestID, keep: keep}
}

func (t *OutputTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, p...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		t.addLine(string(t.partial[:i]))
		t.partial = t.partial[i+1:]
	}
	return len(p), nil
}

func (t *OutputTail) addLine(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	log.V(6).Log(t.requestID, "subprocess output", "line", line)
	t.lines = append(t.lines, line)
	if len(t.lines) > t.keep {
		t.lines = t.lines[len(t.lines)-t.keep:]
	}
}

// String returns the retained lines, including any unterminated final line
func (t *OutputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := append([]string{}, t.lines...)
	if rest := strings.TrimSpace(string(t.partial)); rest != "" {
		lines = append(lines, rest)
		if len(lines) > t.keep {
			lines = lines[len(lines)-t.keep:]
		}
	}
	return strings.Join(lines, "\n")
}
