package utils

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingTB struct {
	testing.TB
	failures []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestGoroutineLeakDetector(t *testing.T) {
	t.Run("NoLeak", func(t *testing.T) {
		rec := &recordingTB{TB: t}
		detector := NewGoroutineLeakDetector(rec).Start()

		ch := make(chan struct{})
		go func() { ch <- struct{}{} }()
		<-ch

		detector.Check()
		assert.Empty(t, rec.failures)
	})

	t.Run("DetectsLeak", func(t *testing.T) {
		rec := &recordingTB{TB: t}
		detector := NewGoroutineLeakDetector(rec).SetDeadline(100 * time.Millisecond).Start()

		stop := make(chan struct{})
		defer close(stop)
		go func() { <-stop }()

		detector.Check()
		if assert.Len(t, rec.failures, 1) {
			assert.Contains(t, rec.failures[0], "Goroutine leak detected")
		}
	})
}
