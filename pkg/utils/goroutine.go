package utils

import (
	"runtime"
	"testing"
	"time"
)

// GoroutineLeakDetector fails a test when goroutines started during it are
// still running at Check time.
type GoroutineLeakDetector struct {
	t              testing.TB
	initialCount   int
	allowedGrowth  int
	checkInterval  time.Duration
	stabilizeDelay time.Duration
	deadline       time.Duration
}

// NewGoroutineLeakDetector creates a new goroutine leak detector
func NewGoroutineLeakDetector(t testing.TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:              t,
		checkInterval:  50 * time.Millisecond,
		stabilizeDelay: 100 * time.Millisecond,
		deadline:       2 * time.Second,
	}
}

// Start records the initial goroutine count
func (d *GoroutineLeakDetector) Start() *GoroutineLeakDetector {
	time.Sleep(d.stabilizeDelay)
	d.initialCount = runtime.NumGoroutine()
	return d
}

// Check waits up to the deadline for the goroutine count to fall back within
// the allowed growth, then reports a leak with all stacks if it has not.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()

	var finalCount int
	for waited := time.Duration(0); ; waited += d.checkInterval {
		finalCount = runtime.NumGoroutine()
		if finalCount-d.initialCount <= d.allowedGrowth || waited >= d.deadline {
			break
		}
		time.Sleep(d.checkInterval)
	}

	leaked := finalCount - d.initialCount
	if leaked > d.allowedGrowth {
		buf := make([]byte, 1<<20)
		stackLen := runtime.Stack(buf, true)
		d.t.Errorf("Goroutine leak detected: started with %d, ended with %d (leaked: %d, allowed: %d)\n%s",
			d.initialCount, finalCount, leaked, d.allowedGrowth, buf[:stackLen])
	}
}

// SetAllowedGrowth sets the number of goroutines allowed to grow
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetDeadline bounds how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetDeadline(deadline time.Duration) *GoroutineLeakDetector {
	d.deadline = deadline
	return d
}
