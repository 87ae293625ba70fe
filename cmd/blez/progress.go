package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter rewrites a single status line while a command waits on
// the daemon.
//
//	p := NewCountdownProgressPrinter(os.Stderr, "Scanning for BLE devices", "Scanning", 5*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	phase     atomic.Value // string
	countUp   bool
	duration  time.Duration
	startTime time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that shows elapsed seconds.
func NewProgressPrinter(out io.Writer, prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{out: out, prefix: prefix, countUp: true}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter creates a printer that counts down from duration.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{out: out, prefix: prefix, duration: duration}
	p.phase.Store(phase)
	return p
}

// Start prints the first line and begins refreshing it in the background.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		p.stopChan = make(chan struct{})
		p.done = make(chan struct{})
		p.startTime = time.Now()
		p.print(p.phase.Load().(string), 0)
		go p.loop()
	})
}

func (p *ProgressPrinter) loop() {
	defer close(p.done)
	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.print(p.phase.Load().(string), p.seconds(time.Since(p.startTime)))
		}
	}
}

func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second, e.g. 3.7s -> 4s
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase changes the label shown on the next refresh.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Stop ends the refresh loop and clears the line. Safe to call repeatedly
// and before Start.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		started := false
		p.startOnce.Do(func() {}) // a later Start becomes a no-op
		if p.stopChan != nil {
			started = true
			close(p.stopChan)
			<-p.done
		}
		if started {
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
