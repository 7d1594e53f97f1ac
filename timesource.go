package enginecore

import "time"

// TimeSource supplies the delta time consumed at the start of the time
// phase each tick. Swapping it for a deterministic stub is how tests and
// replay tooling drive the engine at a fixed or scripted rate instead of
// wall-clock time.
type TimeSource interface {
	// DeltaTime returns the seconds elapsed since the previous call. The
	// engine rejects a non-finite or negative result as fatal; it never
	// clamps or silently substitutes a default.
	DeltaTime() (float64, error)
}

// wallClockTimeSource reports real elapsed time between calls. It is the
// Engine's default TimeSource; a host ticking on its own time.Ticker gets
// wall-clock delta time without configuring anything.
type wallClockTimeSource struct {
	last time.Time
}

// NewWallClockTimeSource creates a TimeSource backed by the system clock.
// The first DeltaTime call reports the time since construction.
func NewWallClockTimeSource() TimeSource {
	return &wallClockTimeSource{last: time.Now()}
}

func (w *wallClockTimeSource) DeltaTime() (float64, error) {
	now := time.Now()
	dt := now.Sub(w.last).Seconds()
	w.last = now
	return dt, nil
}

// FixedTimeSource always reports the same delta, useful for deterministic
// tests and replay: every tick advances simulated time by exactly Step
// seconds regardless of wall-clock time.
type FixedTimeSource struct {
	Step float64
}

// NewFixedTimeSource creates a TimeSource that always reports step seconds.
func NewFixedTimeSource(step float64) *FixedTimeSource {
	return &FixedTimeSource{Step: step}
}

func (f *FixedTimeSource) DeltaTime() (float64, error) {
	return f.Step, nil
}
