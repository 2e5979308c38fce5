package clients

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// MaxStartupRetryDelay caps how long a client waits between manifest attempts while an asset is starting
const MaxStartupRetryDelay = 30 * time.Second

// Locations of the retry hint in not-ready response bodies, most specific first. Older servers
// nested the hint under "error" or "details".
var startupRetryHintPaths = [][]string{
	{"segmentedStartupRetryHint", "retryAfterMs"},
	{"segmentedStartupRetryHint", "retry_after_ms"},
	{"error", "segmentedStartupRetryHint", "retryAfterMs"},
	{"details", "retryAfterMs"},
	{"retryAfterMs"},
	{"retry_after_ms"},
}

// ParseStartupRetryHint pulls the advertised retry delay out of a STREAMING_ASSET_NOT_READY
// response body. Numbers and numeric strings are both accepted.
func ParseStartupRetryHint(body []byte) (time.Duration, bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, false
	}
	for _, path := range startupRetryHintPaths {
		v, ok := lookup(doc, path)
		if !ok {
			continue
		}
		if ms, ok := toMillis(v); ok {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	return 0, false
}

// RetryDelay is the hint, raised to floor and capped at ceiling. A zero ceiling means MaxStartupRetryDelay.
func RetryDelay(hint, floor, ceiling time.Duration) time.Duration {
	if ceiling <= 0 || ceiling > MaxStartupRetryDelay {
		ceiling = MaxStartupRetryDelay
	}
	delay := hint
	if delay < floor {
		delay = floor
	}
	if delay > ceiling {
		delay = ceiling
	}
	return delay
}

func lookup(doc map[string]interface{}, path []string) (interface{}, bool) {
	var cur interface{} = doc
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func toMillis(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
	case string:
		v = strings.TrimSpace(t)
		if v == "" {
			return 0, false
		}
	default:
		return 0, false
	}
	var ms float64
	if err := mapstructure.WeakDecode(v, &ms); err != nil {
		return 0, false
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms <= 0 {
		return 0, false
	}
	return ms, true
}
