package notify

import (
	"errors"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
)

// ErrNoPayload is returned when a PropertiesChanged signal carries no byte array.
var ErrNoPayload = errors.New("signal carries no byte payload")

// changedEntry is one a{sv} entry of a PropertiesChanged body.
type changedEntry struct {
	name  string
	value dbus.Variant
}

// walkChanged reads the (s, a{sv}, ...) prefix of a PropertiesChanged body
// and returns the changed properties in key order.
func walkChanged(sig *dbus.Signal) ([]changedEntry, error) {
	if sig == nil {
		return nil, &bus.ParseError{Op: "signal", Msg: "nil signal"}
	}

	r := bus.NewReader(sig.Body)
	if _, err := r.ReadString(); err != nil {
		return nil, err
	}
	if err := r.Enter(); err != nil {
		return nil, err
	}

	var entries []changedEntry
	for r.More() {
		if err := r.Enter(); err != nil {
			return nil, err
		}
		name, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadVariant()
		if err != nil {
			return nil, err
		}
		if err := r.Exit(); err != nil {
			return nil, err
		}
		entries = append(entries, changedEntry{name: name, value: v})
	}
	return entries, r.Exit()
}

// DecodeLineBuffer extracts the first byte-array value of a PropertiesChanged
// signal, whatever the property is called. UART-style peripherals deliver
// their line buffer this way.
func DecodeLineBuffer(sig *dbus.Signal) ([]byte, error) {
	entries, err := walkChanged(sig)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if b, ok := e.value.Value().([]byte); ok {
			return append([]byte{}, b...), nil
		}
	}
	return nil, ErrNoPayload
}

// DecodeValue extracts the Value property of a PropertiesChanged signal.
func DecodeValue(sig *dbus.Signal) ([]byte, error) {
	entries, err := walkChanged(sig)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.name != bluez.PropValue {
			continue
		}
		if b, ok := e.value.Value().([]byte); ok {
			return append([]byte{}, b...), nil
		}
		return nil, &bus.ParseError{Op: "signal", Msg: "Value is not a byte array"}
	}
	return nil, ErrNoPayload
}

// StateEvent is a device state transition reported by PropertiesChanged.
type StateEvent int

const (
	StateOther StateEvent = iota
	StatePair
	StateUnpair
	StateTrusted
	StateUntrusted
	StateConnect
	StateDisconnect
)

func (e StateEvent) String() string {
	switch e {
	case StatePair:
		return "pair"
	case StateUnpair:
		return "unpair"
	case StateTrusted:
		return "trusted"
	case StateUntrusted:
		return "untrusted"
	case StateConnect:
		return "connect"
	case StateDisconnect:
		return "disconnect"
	default:
		return "other"
	}
}

// DecodeStateChanges maps each changed property of a device signal to a
// StateEvent, in key order. Properties other than Paired, Trusted and
// Connected yield StateOther.
func DecodeStateChanges(sig *dbus.Signal) ([]StateEvent, error) {
	entries, err := walkChanged(sig)
	if err != nil {
		return nil, err
	}

	events := make([]StateEvent, 0, len(entries))
	for _, e := range entries {
		on, isBool := e.value.Value().(bool)
		ev := StateOther
		if isBool {
			switch e.name {
			case bluez.PropPaired:
				ev = pick(on, StatePair, StateUnpair)
			case bluez.PropTrusted:
				ev = pick(on, StateTrusted, StateUntrusted)
			case bluez.PropConnected:
				ev = pick(on, StateConnect, StateDisconnect)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func pick(on bool, yes, no StateEvent) StateEvent {
	if on {
		return yes
	}
	return no
}
