package bus

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
)

// MatchRule is a D-Bus signal match rule. Empty fields match anything.
type MatchRule struct {
	Type      string
	Sender    string
	Path      dbus.ObjectPath
	Interface string
	Member    string
}

// PropertiesChangedRule matches PropertiesChanged signals emitted for path.
func PropertiesChangedRule(path dbus.ObjectPath) MatchRule {
	return MatchRule{
		Type:      "signal",
		Path:      path,
		Interface: bluez.PropertiesInterface,
		Member:    bluez.PropertiesChangedMember,
	}
}

// String renders the rule in the bus daemon's AddMatch syntax.
func (m MatchRule) String() string {
	var parts []string
	add := func(key, val string) {
		if val != "" {
			parts = append(parts, fmt.Sprintf("%s='%s'", key, val))
		}
	}
	add("type", m.Type)
	add("sender", m.Sender)
	add("interface", m.Interface)
	add("member", m.Member)
	add("path", string(m.Path))
	return strings.Join(parts, ",")
}

// Matches reports whether sig satisfies the rule. The sender is compared
// verbatim, so a well-known name only matches if the transport reports it.
func (m MatchRule) Matches(sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	if m.Path != "" && sig.Path != m.Path {
		return false
	}
	if m.Sender != "" && sig.Sender != m.Sender {
		return false
	}
	if m.Interface != "" || m.Member != "" {
		idx := strings.LastIndex(sig.Name, ".")
		if idx < 0 {
			return false
		}
		if m.Interface != "" && sig.Name[:idx] != m.Interface {
			return false
		}
		if m.Member != "" && sig.Name[idx+1:] != m.Member {
			return false
		}
	}
	return true
}

// ParseMatchRule parses the subset of the AddMatch syntax produced by
// MatchRule.String. Unknown keys are ignored.
func ParseMatchRule(rule string) (MatchRule, error) {
	var m MatchRule
	if strings.TrimSpace(rule) == "" {
		return m, nil
	}
	for _, part := range strings.Split(rule, ",") {
		key, val, ok := strings.Cut(part, "=")
		if !ok || len(val) < 2 || val[0] != '\'' || val[len(val)-1] != '\'' {
			return MatchRule{}, &ParseError{Op: "match rule", Msg: fmt.Sprintf("bad element %q", part)}
		}
		val = val[1 : len(val)-1]
		switch strings.TrimSpace(key) {
		case "type":
			m.Type = val
		case "sender":
			m.Sender = val
		case "path":
			m.Path = dbus.ObjectPath(val)
		case "interface":
			m.Interface = val
		case "member":
			m.Member = val
		}
	}
	return m, nil
}
