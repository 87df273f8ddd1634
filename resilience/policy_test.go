package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Delay(t *testing.T) {
	exp := Policy{MaxAttempts: 5, Backoff: BackoffExponential, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 3 * time.Second, Multiplier: 2}
	fixed := Policy{MaxAttempts: 5, Backoff: BackoffFixed, InitialBackoff: 200 * time.Millisecond}

	tests := []struct {
		name   string
		policy Policy
		failed int
		want   time.Duration
	}{
		{"exponential first", exp, 1, 500 * time.Millisecond},
		{"exponential second", exp, 2, time.Second},
		{"exponential third", exp, 3, 2 * time.Second},
		{"exponential capped", exp, 4, 3 * time.Second},
		{"fixed", fixed, 3, 200 * time.Millisecond},
		{"no failures", exp, 0, 0},
		{"zero initial", Policy{}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Delay(tt.failed))
		})
	}
}

func TestParseBackoffKind(t *testing.T) {
	k, err := ParseBackoffKind("Fixed")
	require.NoError(t, err)
	assert.Equal(t, BackoffFixed, k)

	k, err = ParseBackoffKind("")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, k)

	_, err = ParseBackoffKind("linear")
	assert.Error(t, err)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 30*time.Second, p.AttemptTimeout)
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
}
