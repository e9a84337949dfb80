// Package diskprobe implements the router's periodic free-space check:
// every 60s (first run 6s after startup per §4.5 step 2), statfs the
// storage path and alarm if free space drops below a threshold.
package diskprobe

import (
	"syscall"
	"time"
)

// LowSpaceThresholdBytes is the 200MB floor from spec §4.5 step 2.
const LowSpaceThresholdBytes = 200 * 1024 * 1024

// Interval is how often the probe runs once started.
const Interval = 60 * time.Second

// FirstDelay is the initial grace period before the first probe.
const FirstDelay = 6 * time.Second

// Prober tracks when the probe last ran so the caller's tick loop can
// ask "is it time yet" without its own timer goroutine.
type Prober struct {
	Path      string
	startedAt time.Time
	lastRun   time.Time
}

// New returns a Prober that will not fire until FirstDelay has
// elapsed since now.
func New(path string, now time.Time) *Prober {
	return &Prober{Path: path, startedAt: now}
}

// Due reports whether the probe should run at now.
func (p *Prober) Due(now time.Time) bool {
	if p.lastRun.IsZero() {
		return now.Sub(p.startedAt) >= FirstDelay
	}
	return now.Sub(p.lastRun) >= Interval
}

// Result is one probe's outcome.
type Result struct {
	FreeBytes uint64
	Low       bool
}

// Run statfs's Path and marks the probe as having run at now. The
// caller is responsible for checking Due first and for raising the
// ALARM_LOW_STORAGE_SPACE alarm when Result.Low is true.
func (p *Prober) Run(now time.Time) (Result, error) {
	p.lastRun = now

	var st syscall.Statfs_t
	if err := syscall.Statfs(p.Path, &st); err != nil {
		return Result{}, err
	}

	free := uint64(st.Bavail) * uint64(st.Bsize)
	return Result{FreeBytes: free, Low: free < LowSpaceThresholdBytes}, nil
}
