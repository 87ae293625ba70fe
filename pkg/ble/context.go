// Package ble is the entry point of the library: a Context owns the bus
// connection, the device registry and the notification dispatcher.
//
//	ctx, err := ble.Open(config.DefaultConfig(), logger)
//	if err != nil { ... }
//	defer ctx.Close()
//
//	_ = ctx.Scan(context.Background(), 5*time.Second)
//	dev, _ := ctx.Registry().FindByName("FIRMATA")
package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/device"
	"github.com/srg/blez/internal/introspect"
	"github.com/srg/blez/internal/notify"
	"github.com/srg/blez/pkg/config"
)

// Re-exported so callers outside this module can name the types they receive.
type (
	Device         = device.Device
	Service        = device.Service
	Characteristic = device.Characteristic
	Properties     = device.Properties
	Registry       = device.Registry
	StateEvent     = notify.StateEvent
)

// Context is one library session. Open as many as needed; they share nothing.
type Context struct {
	cfg    *config.Config
	logger *logrus.Logger

	conn       *bus.Connection
	intro      *introspect.Introspector
	registry   *device.Registry
	dispatcher *notify.Dispatcher

	closeOnce sync.Once
	closeErr  error
}

// Open connects to the system bus and prepares an idle dispatcher.
// A nil cfg uses config.DefaultConfig; a nil logger uses cfg.NewLogger.
func Open(cfg *config.Config, logger *logrus.Logger) (*Context, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}

	conn, err := bus.Open(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open BlueZ context: %w", err)
	}

	intro := introspect.New(conn, cfg.Destination, logger)
	opts := device.Options{
		Destination: cfg.Destination,
		AdapterPath: dbus.ObjectPath(cfg.AdapterPath),
	}

	logger.WithFields(logrus.Fields{
		"destination": cfg.Destination,
		"adapter":     cfg.AdapterPath,
	}).Debug("BlueZ context opened")

	return &Context{
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		intro:      intro,
		registry:   device.NewRegistry(conn, intro, opts, logger),
		dispatcher: notify.New(logger, cfg.SignalBuffer),
	}, nil
}

// Registry gives access to the devices found by the last scan.
func (c *Context) Registry() *device.Registry {
	return c.registry
}

// Scan runs discovery for d, or for the configured duration when d is zero.
func (c *Context) Scan(ctx context.Context, d time.Duration) error {
	if d == 0 {
		d = c.cfg.ScanDuration
	}
	return c.registry.Scan(ctx, d)
}

// Devices returns the devices found by the last scan in discovery order.
func (c *Context) Devices() []*device.Device {
	return c.registry.Devices()
}

// Connect calls dev.Connect up to the configured number of attempts, pausing
// connect_backoff between them.
func (c *Context) Connect(ctx context.Context, dev *device.Device) error {
	var err error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		if err = dev.Connect(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		c.logger.WithFields(logrus.Fields{
			"address": dev.Address(),
			"attempt": attempt,
			"max":     c.cfg.ConnectAttempts,
		}).WithError(err).Warn("connect attempt failed")

		if attempt == c.cfg.ConnectAttempts || c.cfg.ConnectBackoff == 0 {
			continue
		}
		timer := time.NewTimer(c.cfg.ConnectBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
	return err
}

// RegisterCharacteristicReadEvent enables notifications on the characteristic
// matching uuid and calls fn with the payload of every value change.
// fn runs on the dispatcher goroutine.
func (c *Context) RegisterCharacteristicReadEvent(ctx context.Context, dev *device.Device, uuid string, fn func([]byte)) error {
	ch, err := dev.StartNotify(ctx, uuid)
	if err != nil {
		return err
	}

	log := c.logger.WithFields(logrus.Fields{
		"address": dev.Address(),
		"uuid":    ch.UUID,
	})
	err = c.dispatcher.Register(ctx, notify.Match{
		Rule: bus.PropertiesChangedRule(ch.Path),
		Handler: func(sig *dbus.Signal) {
			data, err := notify.DecodeLineBuffer(sig)
			if err != nil {
				log.WithError(err).Debug("ignoring signal without payload")
				return
			}
			fn(data)
		},
	})
	if err != nil {
		return &device.OpError{Op: device.OpNotify, Path: ch.Path, Err: err}
	}

	log.Info("characteristic read event registered")
	return nil
}

// RegisterChangeStateEvent calls fn for every Paired, Trusted or Connected
// transition of dev, and with StateOther for any other property change.
func (c *Context) RegisterChangeStateEvent(ctx context.Context, dev *device.Device, fn func(notify.StateEvent)) error {
	log := c.logger.WithField("address", dev.Address())
	err := c.dispatcher.Register(ctx, notify.Match{
		Rule: bus.PropertiesChangedRule(dev.Path()),
		Handler: func(sig *dbus.Signal) {
			events, err := notify.DecodeStateChanges(sig)
			if err != nil {
				log.WithError(err).Warn("malformed state change signal")
				return
			}
			for _, ev := range events {
				fn(ev)
			}
		},
	})
	if err != nil {
		return &device.OpError{Op: device.OpNotify, Path: dev.Path(), Err: err}
	}
	return nil
}

// Close stops the dispatcher and closes the bus connection.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		if err := c.dispatcher.Stop(); err != nil {
			c.logger.WithError(err).Warn("dispatcher stop failed")
		}
		c.registry.Clear()
		c.closeErr = c.conn.Close()
		c.logger.Debug("BlueZ context closed")
	})
	return c.closeErr
}
