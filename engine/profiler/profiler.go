package profiler

import (
	"runtime"
	"time"

	"k8s.io/klog/v2"
)

// Report is one interval's worth of statistics.
type Report struct {
	// Elapsed is the length of the interval.
	Elapsed time.Duration
	// TickRate is ticks per second over the interval.
	TickRate float64
	// DispatchRate is dispatches per second over the interval.
	DispatchRate float64
	// HeapMB is the live heap at the end of the interval.
	HeapMB float64
	// AllocRateMB is the heap allocation rate in MB/s over the interval.
	AllocRateMB float64
	// GCCount is the total number of completed GC cycles.
	GCCount uint32
	// MaxPause is the longest GC pause observed during the interval.
	MaxPause time.Duration
}

// Profiler tracks tick and dispatch rates plus memory statistics and logs a Report once
// per interval. It is not safe for concurrent use; call it from one loop.
type Profiler struct {
	name           string
	interval       time.Duration
	now            func() time.Time
	readMem        bool
	ticks          int
	lastTime       time.Time
	lastDispatches uint64
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	last           Report
}

// NewProfiler creates a new Profiler. The interval defaults to 1 second.
//
// Parameters:
//   - options: functional options for the profiler
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		name:     "profiler",
		interval: time.Second,
		now:      time.Now,
		readMem:  true,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Tick should be called once per loop iteration with the running total of dispatches.
// When the interval has elapsed it logs and returns the interval's Report.
//
// Parameters:
//   - dispatches: the cumulative dispatch count of the observed managers
//
// Returns:
//   - Report: the interval's statistics, zero when nothing was reported
//   - bool: true if a report was produced this tick
func (p *Profiler) Tick(dispatches uint64) (Report, bool) {
	p.ticks++
	current := p.now()
	elapsed := current.Sub(p.lastTime)
	if elapsed < p.interval || elapsed <= 0 {
		return Report{}, false
	}

	secs := elapsed.Seconds()
	r := Report{
		Elapsed:      elapsed,
		TickRate:     float64(p.ticks) / secs,
		DispatchRate: float64(dispatches-p.lastDispatches) / secs,
	}

	if p.readMem {
		runtime.ReadMemStats(&p.memStats)
		r.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
		r.AllocRateMB = float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / secs
		r.GCCount = p.memStats.NumGC

		// PauseNs is a circular buffer of the last 256 pauses.
		start := p.lastGCCount
		if r.GCCount-start > 256 {
			start = r.GCCount - 256
		}
		for i := start; i < r.GCCount; i++ {
			if pause := time.Duration(p.memStats.PauseNs[i%256]); pause > r.MaxPause {
				r.MaxPause = pause
			}
		}
		p.lastGCCount = r.GCCount
		p.lastTotalAlloc = p.memStats.TotalAlloc
	}

	klog.Background().WithValues("profiler", p.name).Info("Frame statistics",
		"tickRate", r.TickRate,
		"dispatchRate", r.DispatchRate,
		"heapMB", r.HeapMB,
		"allocRateMB", r.AllocRateMB,
		"gc", r.GCCount,
		"maxPause", r.MaxPause,
	)

	p.ticks = 0
	p.lastTime = current
	p.lastDispatches = dispatches
	p.last = r
	return r, true
}

// Last returns the most recent report.
func (p *Profiler) Last() Report {
	return p.last
}
