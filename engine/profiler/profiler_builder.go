package profiler

import "time"

// ProfilerBuilderOption is a functional option for configuring a Profiler.
type ProfilerBuilderOption func(*Profiler)

// WithName sets the name attached to the profiler's log lines.
//
// Parameters:
//   - name: the profiler name
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the name option
func WithName(name string) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.name = name
	}
}

// WithInterval sets how often a report is produced. Non-positive values are ignored.
//
// Parameters:
//   - interval: the report interval
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the interval option
func WithInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMemStats toggles reading runtime memory statistics on each report.
func WithMemStats(enabled bool) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.readMem = enabled
	}
}
