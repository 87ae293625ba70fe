package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/introspect"
)

// UnknownUUID stands in for a UUID the daemon would not report.
const UnknownUUID = "unknown"

// Options locates the daemon and the adapter devices hang off.
type Options struct {
	Destination string
	AdapterPath dbus.ObjectPath
}

func (o Options) withDefaults() Options {
	if o.Destination == "" {
		o.Destination = bluez.Destination
	}
	if o.AdapterPath == "" {
		o.AdapterPath = bluez.DefaultAdapterPath
	}
	return o
}

// Characteristic is a GATT characteristic discovered under a service.
type Characteristic struct {
	Path dbus.ObjectPath `json:"path"`
	UUID string          `json:"uuid"`
}

// Service is a GATT service with its characteristics in discovery order.
type Service struct {
	Path            dbus.ObjectPath   `json:"path"`
	UUID            string            `json:"uuid"`
	Primary         bool              `json:"primary"`
	Characteristics []*Characteristic `json:"characteristics"`
}

// Properties is the connection and bonding state of a device.
type Properties struct {
	Paired    bool `json:"paired"`
	Trusted   bool `json:"trusted"`
	Connected bool `json:"connected"`
}

// Device is a remote peripheral. Identity is the object path.
type Device struct {
	path    dbus.ObjectPath
	address string
	name    string

	conn   *bus.Connection
	intro  *introspect.Introspector
	opts   Options
	logger *logrus.Logger

	mu               sync.RWMutex
	services         []*Service
	servicesResolved bool
}

// NewDevice binds a device record to a bus connection.
func NewDevice(conn *bus.Connection, intro *introspect.Introspector, opts Options, path dbus.ObjectPath, address, name string, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}
	return &Device{
		path:    path,
		address: address,
		name:    name,
		conn:    conn,
		intro:   intro,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

func (d *Device) Path() dbus.ObjectPath { return d.path }
func (d *Device) Address() string       { return d.address }
func (d *Device) Name() string          { return d.name }

// ServicesResolved reports whether GetServices has completed at least once.
func (d *Device) ServicesResolved() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.servicesResolved
}

// Services returns the cached service tree.
func (d *Device) Services() []*Service {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Service(nil), d.services...)
}

func (d *Device) log() *logrus.Entry {
	return d.logger.WithFields(logrus.Fields{
		"device":  d.name,
		"address": d.address,
	})
}

func (d *Device) call(ctx context.Context, op Op, path dbus.ObjectPath, iface, method string, args ...interface{}) (*bus.Reader, error) {
	r, err := d.conn.CallMethod(ctx, d.opts.Destination, path, iface, method, args...)
	if err != nil {
		return nil, &OpError{Op: op, Path: path, Err: err}
	}
	return r, nil
}

// Connect asks the daemon to connect to the device.
func (d *Device) Connect(ctx context.Context) error {
	d.log().Info("connecting")
	_, err := d.call(ctx, OpConnect, d.path, bluez.DeviceInterface, bluez.MethodConnect)
	return err
}

// Disconnect drops the connection to the device.
func (d *Device) Disconnect(ctx context.Context) error {
	d.log().Info("disconnecting")
	_, err := d.call(ctx, OpDisconnect, d.path, bluez.DeviceInterface, bluez.MethodDisconnect)
	return err
}

// Pair starts pairing with the device.
func (d *Device) Pair(ctx context.Context) error {
	d.log().Info("pairing")
	_, err := d.call(ctx, OpPair, d.path, bluez.DeviceInterface, bluez.MethodPair)
	return err
}

// Unpair cancels an in-progress pairing.
func (d *Device) Unpair(ctx context.Context) error {
	d.log().Info("cancelling pairing")
	_, err := d.call(ctx, OpUnpair, d.path, bluez.DeviceInterface, bluez.MethodCancelPairing)
	return err
}

// GetServices discovers the GATT tree of the device, pairing first when the
// device is not paired. The cached tree is rebuilt from scratch every call.
//
// When some UUIDs cannot be read the tree is still returned, with those
// entries set to UnknownUUID, together with an error wrapping ErrPartialDiscovery.
func (d *Device) GetServices(ctx context.Context) ([]*Service, error) {
	paired, err := d.conn.GetBool(ctx, d.opts.Destination, d.path, bluez.DeviceInterface, bluez.PropPaired)
	if err != nil {
		return nil, &OpError{Op: OpServiceDiscovery, Path: d.path, Err: err}
	}
	if !paired {
		if err := d.Pair(ctx); err != nil {
			return nil, &OpError{Op: OpServiceDiscovery, Path: d.path, Err: err}
		}
	}

	paths, err := d.intro.EnumerateManagedObjects(ctx)
	if err != nil {
		return nil, &OpError{Op: OpServiceDiscovery, Path: d.path, Err: err}
	}

	unresolved := 0
	readUUID := func(path dbus.ObjectPath, iface string) string {
		uuid, err := d.conn.GetString(ctx, d.opts.Destination, path, iface, bluez.PropUUID)
		if err == nil && strings.TrimSpace(uuid) == "" {
			err = fmt.Errorf("empty %s property", bluez.PropUUID)
		}
		if err != nil {
			unresolved++
			d.log().WithField("path", path).WithError(err).Warn("UUID unavailable")
			return UnknownUUID
		}
		return strings.ToLower(uuid)
	}

	var services []*Service
	for _, p := range paths {
		if !strings.HasPrefix(string(p), string(d.path)) {
			continue
		}
		c, err := d.intro.Classify(ctx, p)
		if err != nil || !c.IsService {
			continue
		}

		svc := &Service{Path: p, UUID: readUUID(p, bluez.ServiceInterface)}
		if primary, err := d.conn.GetBool(ctx, d.opts.Destination, p, bluez.ServiceInterface, bluez.PropPrimary); err == nil {
			svc.Primary = primary
		}
		services = append(services, svc)
	}

	for _, svc := range services {
		for _, p := range paths {
			if p == svc.Path || !strings.HasPrefix(string(p), string(svc.Path)) {
				continue
			}
			c, err := d.intro.Classify(ctx, p)
			if err != nil || !c.IsCharacteristic {
				continue
			}
			svc.Characteristics = append(svc.Characteristics, &Characteristic{
				Path: p,
				UUID: readUUID(p, bluez.CharacteristicInterface),
			})
		}
	}

	d.mu.Lock()
	d.services = services
	d.servicesResolved = true
	d.mu.Unlock()

	d.log().WithFields(logrus.Fields{
		"services":   len(services),
		"unresolved": unresolved,
	}).Info("service discovery complete")

	result := append([]*Service(nil), services...)
	if unresolved > 0 {
		return result, fmt.Errorf("%w: %d UUID(s) unresolved on %s", ErrPartialDiscovery, unresolved, d.path)
	}
	return result, nil
}

// GetServiceByUUID returns the first cached service whose UUID starts with uuid.
func (d *Device) GetServiceByUUID(uuid string) (*Service, error) {
	q := strings.ToLower(uuid)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, svc := range d.services {
		if strings.HasPrefix(svc.UUID, q) {
			return svc, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", By: "uuid", Query: uuid}
}

// GetServiceByPath returns the first cached service whose path starts with path.
func (d *Device) GetServiceByPath(path string) (*Service, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, svc := range d.services {
		if strings.HasPrefix(string(svc.Path), path) {
			return svc, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", By: "path", Query: path}
}

// GetCharacteristicByUUID returns the first cached characteristic, across
// all services, whose UUID starts with uuid.
func (d *Device) GetCharacteristicByUUID(uuid string) (*Characteristic, error) {
	q := strings.ToLower(uuid)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, svc := range d.services {
		for _, ch := range svc.Characteristics {
			if strings.HasPrefix(ch.UUID, q) {
				return ch, nil
			}
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", By: "uuid", Query: uuid}
}

// GetCharacteristicByPath returns the first cached characteristic whose path starts with path.
func (d *Device) GetCharacteristicByPath(path string) (*Characteristic, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, svc := range d.services {
		for _, ch := range svc.Characteristics {
			if strings.HasPrefix(string(ch.Path), path) {
				return ch, nil
			}
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", By: "path", Query: path}
}

// WriteToCharacteristic sends data in a single WriteValue call.
func (d *Device) WriteToCharacteristic(ctx context.Context, uuid string, data []byte) error {
	ch, err := d.GetCharacteristicByUUID(uuid)
	if err != nil {
		return &OpError{Op: OpWrite, Err: err}
	}
	if data == nil {
		data = []byte{}
	}

	d.log().WithFields(logrus.Fields{
		"uuid": ch.UUID,
		"len":  len(data),
	}).Debug("writing characteristic")

	_, err = d.call(ctx, OpWrite, ch.Path, bluez.CharacteristicInterface, bluez.MethodWriteValue,
		data, map[string]dbus.Variant{})
	return err
}

// ReadFromCharacteristic returns the characteristic value as the daemon reports it.
func (d *Device) ReadFromCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	ch, err := d.GetCharacteristicByUUID(uuid)
	if err != nil {
		return nil, &OpError{Op: OpRead, Err: err}
	}

	r, err := d.call(ctx, OpRead, ch.Path, bluez.CharacteristicInterface, bluez.MethodReadValue,
		map[string]dbus.Variant{})
	if err != nil {
		return nil, err
	}
	data, err := r.ReadBytes()
	if err != nil {
		return nil, &OpError{Op: OpRead, Path: ch.Path, Err: err}
	}
	return data, nil
}

// StartNotify enables value notifications on the characteristic and returns it.
func (d *Device) StartNotify(ctx context.Context, uuid string) (*Characteristic, error) {
	ch, err := d.GetCharacteristicByUUID(uuid)
	if err != nil {
		return nil, &OpError{Op: OpNotify, Err: err}
	}
	if _, err := d.call(ctx, OpNotify, ch.Path, bluez.CharacteristicInterface, bluez.MethodStartNotify); err != nil {
		return nil, err
	}
	return ch, nil
}

// GetDeviceProperties reads Paired, Trusted and Connected from the object
// the adapter exports for the device address.
func (d *Device) GetDeviceProperties(ctx context.Context) (Properties, error) {
	path := bluez.PathFromAddress(d.opts.AdapterPath, d.address)

	var props Properties
	fields := []struct {
		name string
		dst  *bool
	}{
		{bluez.PropPaired, &props.Paired},
		{bluez.PropTrusted, &props.Trusted},
		{bluez.PropConnected, &props.Connected},
	}
	for _, f := range fields {
		v, err := d.conn.GetBool(ctx, d.opts.Destination, path, bluez.DeviceInterface, f.name)
		if err != nil {
			return Properties{}, &OpError{Op: OpProperties, Path: path, Err: err}
		}
		*f.dst = v
	}
	return props, nil
}

// MarshalJSON renders the device and its cached service tree.
func (d *Device) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	services := d.services
	if services == nil {
		services = []*Service{}
	}
	return json.Marshal(struct {
		Path     dbus.ObjectPath `json:"path"`
		Address  string          `json:"address"`
		Name     string          `json:"name"`
		Services []*Service      `json:"services"`
	}{d.path, d.address, d.name, services})
}
