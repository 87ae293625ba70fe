package main

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer lets the printer goroutine and the test share a buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter_Lifecycle(t *testing.T) {
	out := &syncBuffer{}
	p := NewProgressPrinter(out, "Looking for AA:BB", "Scanning")
	p.Start()
	assert.Contains(t, out.String(), "\rLooking for AA:BB (Scanning...)")

	p.SetPhase("Connecting")
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("(Connecting"))
	}, time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.True(t, bytes.HasSuffix([]byte(out.String()), []byte(clearLineSequence)))

	before := out.String()
	p.Start()
	time.Sleep(3 * progressUpdateInterval)
	assert.Equal(t, before, out.String(), "a stopped printer stays silent")
}

func TestProgressPrinter_StopBeforeStart(t *testing.T) {
	out := &syncBuffer{}
	p := NewCountdownProgressPrinter(out, "Scanning", "Scanning", time.Second)
	p.Stop()
	p.Start()
	assert.Empty(t, out.String())
}

func TestProgressPrinter_Seconds(t *testing.T) {
	countdown := NewCountdownProgressPrinter(nil, "", "", 5*time.Second)
	countUp := NewProgressPrinter(nil, "", "")

	tests := []struct {
		name    string
		p       *ProgressPrinter
		elapsed time.Duration
		want    int
	}{
		{"countdown rounds up", countdown, 1300 * time.Millisecond, 4},
		{"countdown rounds down", countdown, 1700 * time.Millisecond, 3},
		{"countdown finished", countdown, 6 * time.Second, 0},
		{"count up truncates", countUp, 2900 * time.Millisecond, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.seconds(tt.elapsed))
		})
	}
}
