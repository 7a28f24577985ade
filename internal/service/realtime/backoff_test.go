package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequence(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, Backoff(attempt, DefaultBaseDelay, DefaultMaxDelay), "attempt %d", attempt)
	}
}

func TestBackoffLargeAttemptStaysCapped(t *testing.T) {
	assert.Equal(t, DefaultMaxDelay, Backoff(200, DefaultBaseDelay, DefaultMaxDelay))
	assert.Equal(t, DefaultBaseDelay, Backoff(-3, DefaultBaseDelay, DefaultMaxDelay))
}
