// Package notify delivers D-Bus signals to registered handlers from a
// dedicated goroutine that owns its own bus connection.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/groutine"
)

// ErrStopped is returned by Register once the dispatcher has been stopped.
var ErrStopped = errors.New("notification dispatcher stopped")

// State is the dispatcher lifecycle: Idle -> Starting -> Running -> Stopped.
// Starting lasts from the first Register until the loop goroutine is up.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Handler receives a matching signal on the dispatcher goroutine.
type Handler func(sig *dbus.Signal)

// Match pairs a rule with the handler invoked for each signal satisfying it.
type Match struct {
	Rule    bus.MatchRule
	Handler Handler
}

type registration struct {
	match Match
	ack   chan error
}

// Dispatcher runs the signal loop. The first Register opens the dispatcher's
// bus connection and starts the loop; later registrations are handed to the
// running loop and take effect immediately.
type Dispatcher struct {
	logger     *logrus.Logger
	bufferSize int

	mu       sync.Mutex
	state    State
	conn     *bus.Connection
	signals  chan *dbus.Signal
	register chan registration
	cancel   context.CancelFunc
	done     <-chan struct{}
	loopGID  uint64
	gidReady chan struct{}

	// owned by the loop goroutine
	table []Match
}

// New returns an idle dispatcher. bufferSize bounds the signals queued
// between the bus and the loop.
func New(logger *logrus.Logger, bufferSize int) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Dispatcher{logger: logger, bufferSize: bufferSize}
}

// State reports the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Register installs m on the bus and adds it to the loop's table, starting
// the loop on first use.
func (d *Dispatcher) Register(ctx context.Context, m Match) error {
	if m.Handler == nil {
		return fmt.Errorf("register %s: nil handler", m.Rule)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	switch d.state {
	case Stopped:
		d.mu.Unlock()
		return ErrStopped
	case Idle:
		if err := d.startLocked(); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	conn, register, done, gidReady := d.conn, d.register, d.done, d.gidReady
	d.mu.Unlock()

	// a handler registering from the loop goroutine cannot wait on the loop
	if d.onLoop(gidReady) {
		return d.install(conn, m)
	}

	reg := registration{match: m, ack: make(chan error, 1)}
	select {
	case register <- reg:
	case <-done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once the loop holds the registration the outcome is reported even if
	// ctx ends meanwhile; the loop acks without blocking.
	select {
	case err := <-reg.ack:
		return err
	case <-done:
		return ErrStopped
	}
}

func (d *Dispatcher) onLoop(gidReady <-chan struct{}) bool {
	select {
	case <-gidReady:
		return groutine.GetGID() == d.loopGID
	default:
		return false
	}
}

// install adds m to the match table. Loop goroutine only.
func (d *Dispatcher) install(conn *bus.Connection, m Match) error {
	if err := conn.AddMatch(m.Rule); err != nil {
		return err
	}
	d.table = append(d.table, m)
	return nil
}

func (d *Dispatcher) startLocked() error {
	d.state = Starting
	d.logger.Debug("starting notification dispatcher")

	conn, err := bus.Open(d.logger)
	if err != nil {
		d.state = Idle
		return fmt.Errorf("notification dispatcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.signals = make(chan *dbus.Signal, d.bufferSize)
	d.register = make(chan registration)
	d.cancel = cancel
	d.gidReady = make(chan struct{})

	conn.Signals(d.signals)
	d.done = groutine.Go(ctx, "notify-dispatcher", d.loop(conn, d.signals, d.register))
	return nil
}

func (d *Dispatcher) loop(conn *bus.Connection, signals <-chan *dbus.Signal, register <-chan registration) func(context.Context) {
	gidReady := d.gidReady
	return func(ctx context.Context) {
		d.loopGID = groutine.GetGID()
		close(gidReady)

		d.mu.Lock()
		if d.state == Starting {
			d.state = Running
		}
		d.mu.Unlock()

		log := d.logger.WithField("goroutine", groutine.GetName(ctx))
		log.Info("notification dispatcher running")

		for {
			select {
			case <-ctx.Done():
				log.WithField("matches", len(d.table)).Debug("dispatcher loop exiting")
				return

			case reg := <-register:
				reg.ack <- d.install(conn, reg.match)

			case sig := <-signals:
				// matches installed by a handler apply from the next signal
				for _, m := range d.table {
					if m.Rule.Matches(sig) {
						d.invoke(log, m, sig)
					}
				}
			}
		}
	}
}

func (d *Dispatcher) invoke(log *logrus.Entry, m Match, sig *dbus.Signal) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"rule":  m.Rule.String(),
				"panic": r,
			}).Error("notification handler panicked")
		}
	}()
	m.Handler(sig)
}

// Stop ends the loop and closes the dispatcher connection. A handler still
// running is not waited for when Stop is called from that handler. Stopped
// is terminal.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	prev := d.state
	if prev == Stopped {
		d.mu.Unlock()
		return nil
	}
	d.state = Stopped
	conn, signals, cancel, done, gidReady := d.conn, d.signals, d.cancel, d.done, d.gidReady
	d.mu.Unlock()

	if prev == Idle {
		return nil
	}

	cancel()
	<-gidReady
	if groutine.GetGID() != d.loopGID {
		<-done
	}

	conn.RemoveSignals(signals)
	d.logger.Info("notification dispatcher stopped")
	return conn.Close()
}
