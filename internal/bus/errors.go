package bus

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ConnectionState represents the specific kind of bus connection failure
type ConnectionState string

const (
	NotConnected ConnectionState = "not_connected"
	Unreachable  ConnectionState = "unreachable"
)

// ConnectionError represents any bus connection problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected = &ConnectionError{State: NotConnected}
	ErrUnreachable  = &ConnectionError{State: Unreachable}
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// RemoteCallError is a method call the daemon answered with an error reply.
type RemoteCallError struct {
	Path      dbus.ObjectPath
	Interface string
	Method    string
	Name      string // D-Bus error name, e.g. org.bluez.Error.Failed
	Message   string // daemon supplied text
}

func (e *RemoteCallError) Error() string {
	msg := fmt.Sprintf("%s.%s on %s failed", e.Interface, e.Method, e.Path)
	if e.Name != "" {
		msg += ": " + e.Name
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// PropertyError is a failed org.freedesktop.DBus.Properties.Get or a property
// whose value has an unexpected type.
type PropertyError struct {
	Path      dbus.ObjectPath
	Interface string
	Property  string
	Err       error
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("property %s.%s on %s: %v", e.Interface, e.Property, e.Path, e.Err)
}

func (e *PropertyError) Unwrap() error {
	return e.Err
}

// ParseError is a reply whose structure does not match what the reader was told to expect.
type ParseError struct {
	Op  string
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed reply: %s: %s", e.Op, e.Msg)
}

// normalizeCallError maps a godbus call failure to a RemoteCallError carrying
// the daemon's error name and text. Transport failures are returned as-is.
func normalizeCallError(path dbus.ObjectPath, iface, method string, err error) error {
	if err == nil {
		return nil
	}

	var derr dbus.Error
	var pderr *dbus.Error
	switch {
	case errors.As(err, &derr):
	case errors.As(err, &pderr) && pderr != nil:
		derr = *pderr
	default:
		return err
	}

	rc := &RemoteCallError{Path: path, Interface: iface, Method: method, Name: derr.Name}
	if len(derr.Body) > 0 {
		if s, ok := derr.Body[0].(string); ok {
			rc.Message = s
		}
	}
	return rc
}
