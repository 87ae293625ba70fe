// Package bus wraps a D-Bus connection to the BlueZ daemon: method calls,
// property reads, introspection with a per-path cache, signal subscription,
// and a structured reader for reply bodies.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bluez"
)

// Connection is a session with the system bus.
type Connection struct {
	mu        sync.RWMutex
	transport Transport
	closed    bool

	introspection *hashmap.Map[dbus.ObjectPath, string]
	logger        *logrus.Logger
}

// Open dials a new bus connection through TransportFactory.
func Open(logger *logrus.Logger) (*Connection, error) {
	t, err := TransportFactory()
	if err != nil {
		return nil, &ConnectionError{State: Unreachable, Msg: err.Error()}
	}
	return NewConnection(t, logger), nil
}

// NewConnection wraps an already open transport.
func NewConnection(t Transport, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connection{
		transport:     t,
		introspection: hashmap.New[dbus.ObjectPath, string](),
		logger:        logger,
	}
}

// IsConnected reports whether the connection is open and the transport alive.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.transport.Connected()
}

func (c *Connection) live() (Transport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrNotConnected
	}
	return c.transport, nil
}

// CallMethod invokes iface.method on path and returns a reader over the reply body.
func (c *Connection) CallMethod(ctx context.Context, dest string, path dbus.ObjectPath, iface, method string, args ...interface{}) (*Reader, error) {
	t, err := c.live()
	if err != nil {
		return nil, err
	}

	body, err := t.Call(ctx, dest, path, bluez.Member(iface, method), args...)
	if err != nil {
		err = normalizeCallError(path, iface, method, err)
		c.logger.WithFields(logrus.Fields{
			"path":      path,
			"interface": iface,
			"method":    method,
			"error":     err.Error(),
		}).Error("D-Bus method call failed")
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"path":   path,
		"member": bluez.Member(iface, method),
	}).Debug("D-Bus method call succeeded")
	return NewReader(body), nil
}

// GetProperty reads iface.name through org.freedesktop.DBus.Properties.Get.
func (c *Connection) GetProperty(ctx context.Context, dest string, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	r, err := c.CallMethod(ctx, dest, path, bluez.PropertiesInterface, bluez.MethodGet, iface, name)
	if err != nil {
		return dbus.Variant{}, &PropertyError{Path: path, Interface: iface, Property: name, Err: err}
	}

	raw, err := r.Next()
	if err != nil {
		return dbus.Variant{}, &PropertyError{Path: path, Interface: iface, Property: name, Err: err}
	}
	if v, ok := raw.(dbus.Variant); ok {
		return v, nil
	}
	return dbus.MakeVariant(raw), nil
}

// GetString reads a string property.
func (c *Connection) GetString(ctx context.Context, dest string, path dbus.ObjectPath, iface, name string) (string, error) {
	v, err := c.GetProperty(ctx, dest, path, iface, name)
	if err != nil {
		return "", err
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", &PropertyError{Path: path, Interface: iface, Property: name,
			Err: fmt.Errorf("expected string, got %s", v.Signature())}
	}
	return s, nil
}

// GetBool reads a boolean property.
func (c *Connection) GetBool(ctx context.Context, dest string, path dbus.ObjectPath, iface, name string) (bool, error) {
	v, err := c.GetProperty(ctx, dest, path, iface, name)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, &PropertyError{Path: path, Interface: iface, Property: name,
			Err: fmt.Errorf("expected boolean, got %s", v.Signature())}
	}
	return b, nil
}

// Introspect returns the introspection XML of path. Results are cached per
// path until ResetCache or Close.
func (c *Connection) Introspect(ctx context.Context, dest string, path dbus.ObjectPath) (string, error) {
	c.mu.RLock()
	cache := c.introspection
	c.mu.RUnlock()

	if xml, ok := cache.Get(path); ok {
		return xml, nil
	}

	r, err := c.CallMethod(ctx, dest, path, bluez.IntrospectInterface, bluez.MethodIntrospect)
	if err != nil {
		return "", err
	}
	xml, err := r.ReadString()
	if err != nil {
		return "", err
	}

	cache.Set(path, xml)
	return xml, nil
}

// ResetCache drops every cached introspection result.
func (c *Connection) ResetCache() {
	c.mu.Lock()
	c.introspection = hashmap.New[dbus.ObjectPath, string]()
	c.mu.Unlock()
}

// AddMatch installs a signal match rule on the bus.
func (c *Connection) AddMatch(rule MatchRule) error {
	t, err := c.live()
	if err != nil {
		return err
	}
	if err := t.AddMatch(rule.String()); err != nil {
		c.logger.WithError(err).WithField("rule", rule.String()).Error("failed to add match rule")
		return fmt.Errorf("add match %q: %w", rule.String(), err)
	}
	c.logger.WithField("rule", rule.String()).Debug("match rule installed")
	return nil
}

// Signals routes received signals to ch.
func (c *Connection) Signals(ch chan<- *dbus.Signal) {
	if t, err := c.live(); err == nil {
		t.Signal(ch)
	}
}

// RemoveSignals stops routing signals to ch.
func (c *Connection) RemoveSignals(ch chan<- *dbus.Signal) {
	if t, err := c.live(); err == nil {
		t.RemoveSignal(ch)
	}
}

// Close releases the transport and the introspection cache. Safe to call twice.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.introspection = hashmap.New[dbus.ObjectPath, string]()
	t := c.transport
	c.mu.Unlock()

	c.logger.Debug("closing bus connection")
	return t.Close()
}
