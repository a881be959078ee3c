package resilience

import (
	"strings"
	"time"
)

// ParseBackoff maps a config string to a Backoff, defaulting to fixed.
func ParseBackoff(s string) Backoff {
	switch Backoff(strings.ToLower(strings.TrimSpace(s))) {
	case BackoffLinear:
		return BackoffLinear
	case BackoffExponential:
		return BackoffExponential
	default:
		return BackoffFixed
	}
}

// FromDelayConfig builds a Policy from config values expressed in seconds.
func FromDelayConfig(retries, delaySecs int, backoff string) Policy {
	p := Policy{
		Retries: retries,
		Delay:   time.Duration(delaySecs) * time.Second,
		Backoff: ParseBackoff(backoff),
	}
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	return p
}
