package realtime

import "time"

const (
	DefaultBaseDelay            = time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultPingInterval         = 30 * time.Second
)

// Backoff returns the delay before retry number attempt (zero-based):
// min(base * 2^attempt, ceiling).
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
