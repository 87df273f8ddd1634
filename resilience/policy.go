package resilience

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BackoffKind selects how the delay between attempts grows.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// ParseBackoffKind validates a configured backoff name.
func ParseBackoffKind(s string) (BackoffKind, error) {
	switch k := BackoffKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BackoffFixed, BackoffExponential:
		return k, nil
	case "":
		return BackoffExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff kind %q", s)
	}
}

// Policy bounds the attempts made for one step.
type Policy struct {
	MaxAttempts    int
	Backoff        BackoffKind
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultPolicy returns three attempts with exponential backoff from 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Backoff:        BackoffExponential,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Delay returns the wait before the attempt following the given number of
// failed attempts.
func (p Policy) Delay(failed int) time.Duration {
	p = p.normalized()
	if failed < 1 || p.InitialBackoff <= 0 {
		return 0
	}

	d := p.InitialBackoff
	if p.Backoff == BackoffExponential {
		f := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(failed-1))
		if f > math.MaxInt64 {
			f = math.MaxInt64
		}
		d = time.Duration(f)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}
