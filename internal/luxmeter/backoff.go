package luxmeter

import "time"

const (
	TelemetryDefaultPeriod      = 5 * time.Second
	TelemetryMinReconnectPeriod = 60 * time.Second
	TelemetryMaxReconnectPeriod = 10 * 60 * time.Second
)

// Backoff is the telemetry timer period. The first failed connect moves it
// from Default to Min, each further failure doubles it up to Max, and a
// successful connect restores Default.
type Backoff struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
	current time.Duration
}

func NewBackoff() *Backoff {
	return &Backoff{
		Default: TelemetryDefaultPeriod,
		Min:     TelemetryMinReconnectPeriod,
		Max:     TelemetryMaxReconnectPeriod,
		current: TelemetryDefaultPeriod,
	}
}

func (b *Backoff) Period() time.Duration {
	if b.current == 0 {
		b.current = b.Default
	}
	return b.current
}

// Failure records a failed connect and returns the new period.
func (b *Backoff) Failure() time.Duration {
	if b.Period() == b.Default {
		b.current = b.Min
	} else {
		b.current *= 2
		if b.current > b.Max {
			b.current = b.Max
		}
	}
	return b.current
}

// Success records a connect and reports whether the period changed.
func (b *Backoff) Success() bool {
	changed := b.Period() != b.Default
	b.current = b.Default
	return changed
}
