package bus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Transport is the slice of a D-Bus connection the library relies on.
// The system-bus implementation delegates to godbus; tests install an
// in-memory implementation through TransportFactory.
type Transport interface {
	Call(ctx context.Context, dest string, path dbus.ObjectPath, member string, args ...interface{}) ([]interface{}, error)
	AddMatch(rule string) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Connected() bool
	Close() error
}

// TransportFactory opens a new private transport. Every call must return an
// independent connection: the notification dispatcher owns its own.
var TransportFactory = func() (Transport, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &systemTransport{conn: conn}, nil
}

type systemTransport struct {
	conn *dbus.Conn
}

func (t *systemTransport) Call(ctx context.Context, dest string, path dbus.ObjectPath, member string, args ...interface{}) ([]interface{}, error) {
	call := t.conn.Object(dest, path).CallWithContext(ctx, member, 0, args...)
	if call.Err != nil {
		return nil, call.Err
	}
	return call.Body, nil
}

func (t *systemTransport) AddMatch(rule string) error {
	return t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err
}

func (t *systemTransport) Signal(ch chan<- *dbus.Signal) {
	t.conn.Signal(ch)
}

func (t *systemTransport) RemoveSignal(ch chan<- *dbus.Signal) {
	t.conn.RemoveSignal(ch)
}

func (t *systemTransport) Connected() bool {
	return t.conn.Connected()
}

func (t *systemTransport) Close() error {
	return t.conn.Close()
}
