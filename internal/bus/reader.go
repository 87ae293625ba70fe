package bus

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/godbus/dbus/v5"
)

// DictEntry is one key/value pair of a D-Bus dictionary as seen by Reader.
type DictEntry struct {
	Key   interface{}
	Value interface{}
}

type frame struct {
	items []interface{}
	pos   int
}

// Reader walks a decoded reply body as a sequence of values with explicit
// container entry and exit, mirroring the way a D-Bus message iterator is
// driven. Dictionaries are presented as DictEntry containers sorted by key so
// that a walk is deterministic.
type Reader struct {
	stack []*frame
}

// NewReader returns a reader positioned at the first top-level value of body.
func NewReader(body []interface{}) *Reader {
	return &Reader{stack: []*frame{{items: body}}}
}

func (r *Reader) top() *frame {
	return r.stack[len(r.stack)-1]
}

// Depth is the number of containers currently entered.
func (r *Reader) Depth() int {
	return len(r.stack) - 1
}

// More reports whether the current container has values left.
func (r *Reader) More() bool {
	f := r.top()
	return f.pos < len(f.items)
}

// Peek returns the next value without consuming it.
func (r *Reader) Peek() (interface{}, bool) {
	if !r.More() {
		return nil, false
	}
	f := r.top()
	return f.items[f.pos], true
}

// Next consumes and returns the next value as decoded.
func (r *Reader) Next() (interface{}, error) {
	v, ok := r.Peek()
	if !ok {
		return nil, &ParseError{Op: "next", Msg: fmt.Sprintf("no value left at depth %d", r.Depth())}
	}
	r.top().pos++
	return v, nil
}

// Skip consumes the next value, container or not.
func (r *Reader) Skip() error {
	if _, err := r.Next(); err != nil {
		return &ParseError{Op: "skip", Msg: err.(*ParseError).Msg}
	}
	return nil
}

// Enter descends into the next value, which must be an array, a struct, a
// dictionary, a dictionary entry or a variant.
func (r *Reader) Enter() error {
	v, ok := r.Peek()
	if !ok {
		return &ParseError{Op: "enter", Msg: fmt.Sprintf("no container left at depth %d", r.Depth())}
	}
	items, err := containerItems(v)
	if err != nil {
		return &ParseError{Op: "enter", Msg: err.Error()}
	}
	r.top().pos++
	r.stack = append(r.stack, &frame{items: items})
	return nil
}

// Exit leaves the current container. Every value of the container must have
// been consumed.
func (r *Reader) Exit() error {
	if r.Depth() == 0 {
		return &ParseError{Op: "exit", Msg: "not inside a container"}
	}
	if f := r.top(); f.pos < len(f.items) {
		return &ParseError{Op: "exit", Msg: fmt.Sprintf("%d unread value(s) left in container", len(f.items)-f.pos)}
	}
	r.stack = r.stack[:len(r.stack)-1]
	return nil
}

// ReadString reads a string, unwrapping a variant if needed.
func (r *Reader) ReadString() (string, error) {
	v, err := r.readValue("string")
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case dbus.ObjectPath:
		return string(s), nil
	}
	return "", typeError("string", v)
}

// ReadObjectPath reads an object path, unwrapping a variant if needed.
func (r *Reader) ReadObjectPath() (dbus.ObjectPath, error) {
	v, err := r.readValue("object path")
	if err != nil {
		return "", err
	}
	if p, ok := v.(dbus.ObjectPath); ok {
		return p, nil
	}
	return "", typeError("object path", v)
}

// ReadBool reads a boolean, unwrapping a variant if needed.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.readValue("boolean")
	if err != nil {
		return false, err
	}
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, typeError("boolean", v)
}

// ReadBytes reads a byte array, unwrapping a variant if needed. The returned
// slice is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	v, err := r.readValue("byte array")
	if err != nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return nil, typeError("byte array", v)
}

// ReadVariant reads a variant. A plain value is wrapped.
func (r *Reader) ReadVariant() (dbus.Variant, error) {
	v, err := r.Next()
	if err != nil {
		return dbus.Variant{}, err
	}
	if vv, ok := v.(dbus.Variant); ok {
		return vv, nil
	}
	return dbus.MakeVariant(v), nil
}

func (r *Reader) readValue(want string) (interface{}, error) {
	v, ok := r.Peek()
	if !ok {
		return nil, &ParseError{Op: "read", Msg: fmt.Sprintf("expected %s, no value left at depth %d", want, r.Depth())}
	}
	if vv, ok := v.(dbus.Variant); ok {
		v = vv.Value()
	}
	r.top().pos++
	return v, nil
}

func typeError(want string, got interface{}) error {
	return &ParseError{Op: "read", Msg: fmt.Sprintf("expected %s, got %T", want, got)}
}

func containerItems(v interface{}) ([]interface{}, error) {
	switch c := v.(type) {
	case dbus.Variant:
		return []interface{}{c.Value()}, nil
	case DictEntry:
		return []interface{}{c.Key, c.Value}, nil
	case []interface{}:
		return c, nil
	case nil:
		return nil, fmt.Errorf("nil is not a container")
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return items, nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		items := make([]interface{}, len(keys))
		for i, k := range keys {
			items[i] = DictEntry{Key: k.Interface(), Value: rv.MapIndex(k).Interface()}
		}
		return items, nil
	case reflect.Struct:
		items := make([]interface{}, rv.NumField())
		for i := range items {
			items[i] = rv.Field(i).Interface()
		}
		return items, nil
	}
	return nil, fmt.Errorf("%T is not a container", v)
}
