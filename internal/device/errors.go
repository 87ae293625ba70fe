package device

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// NotFoundError represents a lookup that matched nothing
type NotFoundError struct {
	Resource string // "device", "service", "characteristic"
	By       string // "name", "address", "path", "uuid"
	Query    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with %s %q not found", e.Resource, e.By, e.Query)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Op names a device operation
type Op string

const (
	OpScan             Op = "scan"
	OpConnect          Op = "connect"
	OpDisconnect       Op = "disconnect"
	OpPair             Op = "pair"
	OpUnpair           Op = "unpair"
	OpServiceDiscovery Op = "service discovery"
	OpRead             Op = "read"
	OpWrite            Op = "write"
	OpNotify           Op = "notify"
	OpProperties       Op = "properties"
)

// OpError is a failed device operation. Err carries the cause, usually a
// *bus.RemoteCallError with the daemon's error text.
type OpError struct {
	Op   Op
	Path dbus.ObjectPath
	Err  error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare OpError values by Op
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Op == t.Op
}

// Predefined sentinels, one per operation
var (
	ErrScan             = &OpError{Op: OpScan}
	ErrConnect          = &OpError{Op: OpConnect}
	ErrDisconnect       = &OpError{Op: OpDisconnect}
	ErrPair             = &OpError{Op: OpPair}
	ErrUnpair           = &OpError{Op: OpUnpair}
	ErrServiceDiscovery = &OpError{Op: OpServiceDiscovery}
	ErrRead             = &OpError{Op: OpRead}
	ErrWrite            = &OpError{Op: OpWrite}
	ErrNotify           = &OpError{Op: OpNotify}
	ErrProperties       = &OpError{Op: OpProperties}
)

// ErrPartialDiscovery marks a GetServices result in which at least one UUID
// could not be read. The returned tree is usable; unresolved entries carry UnknownUUID.
var ErrPartialDiscovery = errors.New("partial service discovery")
