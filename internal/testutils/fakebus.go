package testutils

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// D-Bus error names the fake daemon answers with.
const (
	ErrNameUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrNameFailed        = "org.bluez.Error.Failed"
)

// FakeObject is one object exported by the fake daemon.
type FakeObject struct {
	Path       dbus.ObjectPath
	Interfaces map[string]map[string]dbus.Variant
}

// RecordedCall is a method call observed by the fake daemon.
type RecordedCall struct {
	Path   dbus.ObjectPath
	Member string
	Args   []interface{}
}

type failure struct {
	path dbus.ObjectPath
	err  error
}

// FakeBus is an in-memory stand-in for the BlueZ daemon and the system bus.
// Every transport it hands out sees the same object tree, so a library
// connection and the notification dispatcher's connection observe one state.
type FakeBus struct {
	mu         sync.Mutex
	objects    *orderedmap.OrderedMap[dbus.ObjectPath, *FakeObject]
	calls      []RecordedCall
	failures   map[string][]failure
	overrides  map[string][]interface{}
	transports []*FakeTransport

	// Unreachable makes Dial fail as if the system bus were down.
	Unreachable bool
}

// NewFakeBus returns an empty fake daemon.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		objects:   orderedmap.New[dbus.ObjectPath, *FakeObject](),
		failures:  make(map[string][]failure),
		overrides: make(map[string][]interface{}),
	}
}

// Dial opens a new transport to the fake daemon. It has the shape of
// bus.TransportFactory.
func (b *FakeBus) Dial() (bus.Transport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Unreachable {
		return nil, fmt.Errorf("dial unix /var/run/dbus/system_bus_socket: connect: no such file or directory")
	}
	t := &FakeTransport{bus: b, connected: true}
	b.transports = append(b.transports, t)
	return t, nil
}

// AddObject exports an object, replacing one with the same path.
func (b *FakeBus) AddObject(path dbus.ObjectPath, interfaces map[string]map[string]dbus.Variant) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if interfaces == nil {
		interfaces = map[string]map[string]dbus.Variant{}
	}
	b.objects.Set(path, &FakeObject{Path: path, Interfaces: interfaces})
}

// RemoveObject removes an object and everything below it.
func (b *FakeBus) RemoveObject(path dbus.ObjectPath) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var doomed []dbus.ObjectPath
	for pair := b.objects.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == path || strings.HasPrefix(string(pair.Key), string(path)+"/") {
			doomed = append(doomed, pair.Key)
		}
	}
	for _, p := range doomed {
		b.objects.Delete(p)
	}
}

// Property returns a property value of an exported object.
func (b *FakeBus) Property(path dbus.ObjectPath, iface, name string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects.Get(path)
	if !ok {
		return nil, false
	}
	v, ok := obj.Interfaces[iface][name]
	if !ok {
		return nil, false
	}
	return v.Value(), true
}

// SetProperty changes a property and emits PropertiesChanged for it.
func (b *FakeBus) SetProperty(path dbus.ObjectPath, iface, name string, value interface{}) {
	b.mu.Lock()
	b.setPropertyLocked(path, iface, name, value)
	b.mu.Unlock()
	b.EmitPropertiesChanged(path, iface, map[string]dbus.Variant{name: dbus.MakeVariant(value)})
}

func (b *FakeBus) setPropertyLocked(path dbus.ObjectPath, iface, name string, value interface{}) {
	obj, ok := b.objects.Get(path)
	if !ok {
		return
	}
	if obj.Interfaces[iface] == nil {
		obj.Interfaces[iface] = map[string]dbus.Variant{}
	}
	obj.Interfaces[iface][name] = dbus.MakeVariant(value)
}

// FailWith makes calls to member fail with the given D-Bus error. An empty
// path fails the member on every object.
func (b *FakeBus) FailWith(member string, path dbus.ObjectPath, name, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[member] = append(b.failures[member], failure{
		path: path,
		err:  dbus.Error{Name: name, Body: []interface{}{message}},
	})
}

// ClearFailures removes every injected failure.
func (b *FakeBus) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[string][]failure)
}

// OverrideReply makes every call to member return body verbatim.
func (b *FakeBus) OverrideReply(member string, body ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[member] = body
}

// Calls returns the recorded calls, optionally filtered by member.
func (b *FakeBus) Calls(member string) []RecordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []RecordedCall
	for _, c := range b.calls {
		if member == "" || c.Member == member {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls forgets the recorded calls.
func (b *FakeBus) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Transports returns every transport dialed so far.
func (b *FakeBus) Transports() []*FakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakeTransport(nil), b.transports...)
}

// EmitPropertiesChanged delivers a PropertiesChanged signal from path to
// every open transport holding a matching rule.
func (b *FakeBus) EmitPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) {
	b.Emit(&dbus.Signal{
		Sender: bluez.Destination,
		Path:   path,
		Name:   bluez.Member(bluez.PropertiesInterface, bluez.PropertiesChangedMember),
		Body:   []interface{}{iface, changed, []string{}},
	})
}

// Emit delivers sig to every open transport holding a matching rule.
func (b *FakeBus) Emit(sig *dbus.Signal) {
	for _, t := range b.Transports() {
		t.deliver(sig)
	}
}

func (b *FakeBus) handle(path dbus.ObjectPath, member string, args []interface{}) ([]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, RecordedCall{Path: path, Member: member, Args: args})

	for _, f := range b.failures[member] {
		if f.path == "" || f.path == path {
			return nil, f.err
		}
	}
	if body, ok := b.overrides[member]; ok {
		return body, nil
	}

	if member == bluez.Member(bluez.ObjectManagerInterface, bluez.MethodGetManagedObjects) {
		return []interface{}{b.managedObjectsLocked()}, nil
	}

	obj, ok := b.objects.Get(path)
	if !ok {
		return nil, dbus.Error{Name: ErrNameUnknownObject, Body: []interface{}{fmt.Sprintf("Method %q with signature on path %q doesn't exist", member, path)}}
	}

	switch member {
	case bluez.Member(bluez.IntrospectInterface, bluez.MethodIntrospect):
		return []interface{}{introspectionXML(obj)}, nil

	case bluez.Member(bluez.PropertiesInterface, bluez.MethodGet):
		if len(args) != 2 {
			return nil, dbus.Error{Name: ErrNameInvalidArgs, Body: []interface{}{"expected interface and property name"}}
		}
		iface, _ := args[0].(string)
		name, _ := args[1].(string)
		v, ok := obj.Interfaces[iface][name]
		if !ok {
			return nil, dbus.Error{Name: ErrNameInvalidArgs, Body: []interface{}{"No such property '" + name + "'"}}
		}
		return []interface{}{v}, nil
	}

	iface := member[:strings.LastIndex(member, ".")]
	if _, ok := obj.Interfaces[iface]; !ok {
		return nil, dbus.Error{Name: ErrNameUnknownMethod, Body: []interface{}{fmt.Sprintf("Unknown method %s", member)}}
	}

	return b.invokeLocked(obj, member, args)
}

func (b *FakeBus) invokeLocked(obj *FakeObject, member string, args []interface{}) ([]interface{}, error) {
	var changed map[string]dbus.Variant
	var changedIface string
	set := func(iface, name string, value interface{}) {
		b.setPropertyLocked(obj.Path, iface, name, value)
		changedIface = iface
		changed = map[string]dbus.Variant{name: dbus.MakeVariant(value)}
	}

	switch member {
	case bluez.Member(bluez.AdapterInterface, bluez.MethodStartDiscovery):
		set(bluez.AdapterInterface, "Discovering", true)
	case bluez.Member(bluez.AdapterInterface, bluez.MethodStopDiscovery):
		set(bluez.AdapterInterface, "Discovering", false)
	case bluez.Member(bluez.DeviceInterface, bluez.MethodConnect):
		set(bluez.DeviceInterface, bluez.PropConnected, true)
	case bluez.Member(bluez.DeviceInterface, bluez.MethodDisconnect):
		set(bluez.DeviceInterface, bluez.PropConnected, false)
	case bluez.Member(bluez.DeviceInterface, bluez.MethodPair):
		set(bluez.DeviceInterface, bluez.PropPaired, true)
	case bluez.Member(bluez.DeviceInterface, bluez.MethodCancelPairing):
		set(bluez.DeviceInterface, bluez.PropPaired, false)
	case bluez.Member(bluez.CharacteristicInterface, bluez.MethodReadValue):
		v, ok := obj.Interfaces[bluez.CharacteristicInterface][bluez.PropValue]
		if !ok {
			return []interface{}{[]byte{}}, nil
		}
		return []interface{}{v.Value()}, nil
	case bluez.Member(bluez.CharacteristicInterface, bluez.MethodWriteValue):
		if len(args) == 0 {
			return nil, dbus.Error{Name: ErrNameInvalidArgs, Body: []interface{}{"missing value"}}
		}
		if _, ok := args[0].([]byte); !ok {
			return nil, dbus.Error{Name: ErrNameInvalidArgs, Body: []interface{}{fmt.Sprintf("value must be ay, got %T", args[0])}}
		}
	case bluez.Member(bluez.CharacteristicInterface, bluez.MethodStartNotify):
		set(bluez.CharacteristicInterface, "Notifying", true)
	case bluez.Member(bluez.CharacteristicInterface, bluez.MethodStopNotify):
		set(bluez.CharacteristicInterface, "Notifying", false)
	default:
		return nil, dbus.Error{Name: ErrNameUnknownMethod, Body: []interface{}{fmt.Sprintf("Unknown method %s", member)}}
	}

	if changed != nil {
		sig := &dbus.Signal{
			Sender: bluez.Destination,
			Path:   obj.Path,
			Name:   bluez.Member(bluez.PropertiesInterface, bluez.PropertiesChangedMember),
			Body:   []interface{}{changedIface, changed, []string{}},
		}
		transports := append([]*FakeTransport(nil), b.transports...)
		// delivery must not hold the bus lock: handlers may call back in
		go func() {
			for _, t := range transports {
				t.deliver(sig)
			}
		}()
	}
	return []interface{}{}, nil
}

func (b *FakeBus) managedObjectsLocked() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, b.objects.Len())
	for pair := b.objects.Oldest(); pair != nil; pair = pair.Next() {
		ifaces := make(map[string]map[string]dbus.Variant, len(pair.Value.Interfaces))
		for name, props := range pair.Value.Interfaces {
			cp := make(map[string]dbus.Variant, len(props))
			for k, v := range props {
				cp[k] = v
			}
			ifaces[name] = cp
		}
		out[pair.Key] = ifaces
	}
	return out
}

func introspectionXML(obj *FakeObject) string {
	names := make([]string, 0, len(obj.Interfaces)+2)
	names = append(names, bluez.IntrospectInterface, bluez.PropertiesInterface)
	for name := range obj.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names[2:])

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">`)
	sb.WriteString("\n<node>\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  <interface name=\"%s\"></interface>\n", name)
	}
	sb.WriteString("</node>\n")
	return sb.String()
}

// FakeTransport is one client connection to a FakeBus.
type FakeTransport struct {
	bus *FakeBus

	mu        sync.Mutex
	connected bool
	rules     []bus.MatchRule
	signals   []chan<- *dbus.Signal
}

func (t *FakeTransport) Call(ctx context.Context, dest string, path dbus.ObjectPath, member string, args ...interface{}) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !t.Connected() {
		return nil, fmt.Errorf("dbus: connection closed by user")
	}
	if dest != bluez.Destination {
		return nil, dbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown", Body: []interface{}{"The name " + dest + " was not provided by any .service files"}}
	}
	return t.bus.handle(path, member, args)
}

func (t *FakeTransport) AddMatch(rule string) error {
	m, err := bus.ParseMatchRule(rule)
	if err != nil {
		return dbus.Error{Name: "org.freedesktop.DBus.Error.MatchRuleInvalid", Body: []interface{}{err.Error()}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, m)
	return nil
}

// Rules returns the match rules installed on this transport.
func (t *FakeTransport) Rules() []bus.MatchRule {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bus.MatchRule(nil), t.rules...)
}

func (t *FakeTransport) Signal(ch chan<- *dbus.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signals = append(t.signals, ch)
}

func (t *FakeTransport) RemoveSignal(ch chan<- *dbus.Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range t.signals {
		if c == ch {
			t.signals = append(t.signals[:i], t.signals[i+1:]...)
			return
		}
	}
}

func (t *FakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.signals = nil
	return nil
}

func (t *FakeTransport) deliver(sig *dbus.Signal) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	matched := false
	for _, r := range t.rules {
		if r.Matches(sig) {
			matched = true
			break
		}
	}
	chans := append([]chan<- *dbus.Signal(nil), t.signals...)
	t.mu.Unlock()

	if !matched {
		return
	}
	for _, ch := range chans {
		select {
		case ch <- sig:
		default:
		}
	}
}
