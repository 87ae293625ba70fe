// Package introspect enumerates the objects the BlueZ daemon exports and
// classifies each as a device, a GATT service or a GATT characteristic.
package introspect

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
)

// Classification tells which BlueZ roles an object implements.
type Classification struct {
	IsDevice         bool
	IsService        bool
	IsCharacteristic bool
}

// Introspector issues GetManagedObjects and Introspect calls on a connection.
type Introspector struct {
	conn        *bus.Connection
	destination string
	logger      *logrus.Logger
}

func New(conn *bus.Connection, destination string, logger *logrus.Logger) *Introspector {
	if logger == nil {
		logger = logrus.New()
	}
	if destination == "" {
		destination = bluez.Destination
	}
	return &Introspector{conn: conn, destination: destination, logger: logger}
}

// EnumerateManagedObjects lists every object path the daemon manages.
// The introspection cache is dropped first: a new pass sees a new tree.
// A reply with unexpected structure fails the whole pass.
func (i *Introspector) EnumerateManagedObjects(ctx context.Context) ([]dbus.ObjectPath, error) {
	i.conn.ResetCache()

	r, err := i.conn.CallMethod(ctx, i.destination, bluez.RootPath, bluez.ObjectManagerInterface, bluez.MethodGetManagedObjects)
	if err != nil {
		return nil, fmt.Errorf("enumerate managed objects: %w", err)
	}

	paths, err := readManagedObjectPaths(r)
	if err != nil {
		i.logger.WithError(err).Error("GetManagedObjects reply could not be parsed")
		return nil, err
	}

	i.logger.WithField("count", len(paths)).Debug("managed objects enumerated")
	return paths, nil
}

// a{oa{sa{sv}}}: enter the dictionary, then per entry read the path and skip
// the interface map.
func readManagedObjectPaths(r *bus.Reader) ([]dbus.ObjectPath, error) {
	if err := r.Enter(); err != nil {
		return nil, err
	}

	var paths []dbus.ObjectPath
	for r.More() {
		if err := r.Enter(); err != nil {
			return nil, err
		}
		p, err := r.ReadObjectPath()
		if err != nil {
			return nil, err
		}
		if err := r.Skip(); err != nil {
			return nil, err
		}
		if err := r.Exit(); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	if err := r.Exit(); err != nil {
		return nil, err
	}
	return paths, nil
}

// Classify introspects path and reports which BlueZ interfaces it carries.
func (i *Introspector) Classify(ctx context.Context, path dbus.ObjectPath) (Classification, error) {
	xml, err := i.conn.Introspect(ctx, i.destination, path)
	if err != nil {
		i.logger.WithFields(logrus.Fields{
			"path":  path,
			"error": err,
		}).Warn("introspection failed")
		return Classification{}, fmt.Errorf("classify %s: %w", path, err)
	}

	return Classification{
		IsDevice:         strings.Contains(xml, bluez.DeviceInterface),
		IsService:        strings.Contains(xml, bluez.ServiceInterface),
		IsCharacteristic: strings.Contains(xml, bluez.CharacteristicInterface),
	}, nil
}

// Visit is called for every classified object under a prefix.
type Visit func(path dbus.ObjectPath, c Classification) error

// Walk enumerates once and calls fn, in enumeration order, for each object
// whose path starts with prefix. Objects that fail to classify are skipped.
// An error returned by fn stops the walk.
func (i *Introspector) Walk(ctx context.Context, prefix dbus.ObjectPath, fn Visit) error {
	paths, err := i.EnumerateManagedObjects(ctx)
	if err != nil {
		return err
	}

	for _, p := range paths {
		if !strings.HasPrefix(string(p), string(prefix)) {
			continue
		}
		c, err := i.Classify(ctx, p)
		if err != nil {
			continue
		}
		if err := fn(p, c); err != nil {
			return err
		}
	}
	return nil
}
