package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/introspect"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds the devices found by the last scan, in discovery order.
type Registry struct {
	conn   *bus.Connection
	intro  *introspect.Introspector
	opts   Options
	logger *logrus.Logger

	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[dbus.ObjectPath, *Device]
}

func NewRegistry(conn *bus.Connection, intro *introspect.Introspector, opts Options, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		conn:    conn,
		intro:   intro,
		opts:    opts.withDefaults(),
		logger:  logger,
		devices: orderedmap.New[dbus.ObjectPath, *Device](),
	}
}

// Scan runs adapter discovery for d and then rebuilds the registry from every
// device object the daemon exports. Devices from earlier scans are dropped,
// including when the scan fails.
func (r *Registry) Scan(ctx context.Context, d time.Duration) error {
	r.Clear()

	log := r.logger.WithFields(logrus.Fields{
		"adapter":  r.opts.AdapterPath,
		"duration": d,
	})
	log.Info("starting discovery")

	if _, err := r.conn.CallMethod(ctx, r.opts.Destination, r.opts.AdapterPath, bluez.AdapterInterface, bluez.MethodStartDiscovery); err != nil {
		return &OpError{Op: OpScan, Path: r.opts.AdapterPath, Err: err}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var waitErr error
	select {
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	// discovery is stopped even when the wait was cancelled
	stopCtx := context.WithoutCancel(ctx)
	if _, err := r.conn.CallMethod(stopCtx, r.opts.Destination, r.opts.AdapterPath, bluez.AdapterInterface, bluez.MethodStopDiscovery); err != nil {
		return &OpError{Op: OpScan, Path: r.opts.AdapterPath, Err: err}
	}
	if waitErr != nil {
		return &OpError{Op: OpScan, Path: r.opts.AdapterPath, Err: waitErr}
	}

	found := orderedmap.New[dbus.ObjectPath, *Device]()
	err := r.intro.Walk(ctx, "", func(p dbus.ObjectPath, c introspect.Classification) error {
		if !c.IsDevice {
			return nil
		}
		dev := r.newDevice(ctx, p)
		found.Set(p, dev)
		return nil
	})
	if err != nil {
		return &OpError{Op: OpScan, Err: err}
	}

	r.mu.Lock()
	r.devices = found
	r.mu.Unlock()

	log.WithField("device_count", found.Len()).Info("discovery completed")
	return nil
}

func (r *Registry) newDevice(ctx context.Context, p dbus.ObjectPath) *Device {
	log := r.logger.WithField("path", p)

	address, err := r.conn.GetString(ctx, r.opts.Destination, p, bluez.DeviceInterface, bluez.PropAddress)
	if err != nil {
		address = bluez.AddressFromPath(p)
		log.WithError(err).WithField("address", address).Warn("address unavailable, derived from path")
	}

	name, err := r.conn.GetString(ctx, r.opts.Destination, p, bluez.DeviceInterface, bluez.PropName)
	if err != nil {
		name = ""
		log.WithError(err).Warn("device has no name")
	}

	log.WithFields(logrus.Fields{
		"name":    name,
		"address": address,
	}).Debug("device discovered")
	return NewDevice(r.conn, r.intro, r.opts, p, address, name, r.logger)
}

// Clear drops every known device.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.devices = orderedmap.New[dbus.ObjectPath, *Device]()
	r.mu.Unlock()
}

// Len is the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Len()
}

// Devices returns the known devices in discovery order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

func (r *Registry) find(by, query string, key func(*Device) string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if strings.HasPrefix(key(pair.Value), query) {
			return pair.Value, nil
		}
	}
	r.logger.WithFields(logrus.Fields{"by": by, "query": query}).Debug("no device matched")
	return nil, &NotFoundError{Resource: "device", By: by, Query: query}
}

// FindByName returns the first device whose name starts with name.
func (r *Registry) FindByName(name string) (*Device, error) {
	return r.find("name", name, (*Device).Name)
}

// FindByAddress returns the first device whose address starts with address.
func (r *Registry) FindByAddress(address string) (*Device, error) {
	return r.find("address", address, (*Device).Address)
}

// FindByPath returns the first device whose object path starts with path.
func (r *Registry) FindByPath(path string) (*Device, error) {
	return r.find("path", path, func(d *Device) string { return string(d.path) })
}
