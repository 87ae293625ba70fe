package introspect_test

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blez/internal/bluez"
	"github.com/srg/blez/internal/bus"
	"github.com/srg/blez/internal/introspect"
	"github.com/srg/blez/internal/testutils"
	"github.com/stretchr/testify/suite"
)

var getManagedObjects = bluez.Member(bluez.ObjectManagerInterface, bluez.MethodGetManagedObjects)

type IntrospectorTestSuite struct {
	testutils.FakeBusSuite
	intro *introspect.Introspector
}

func (s *IntrospectorTestSuite) SetupTest() {
	s.FakeBusSuite.SetupTest()
	s.intro = introspect.New(s.Connection(), "", s.Logger)
}

func (s *IntrospectorTestSuite) TestEnumerateManagedObjects() {
	paths, err := s.intro.EnumerateManagedObjects(context.Background())
	s.Require().NoError(err)

	dev := "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"
	s.Equal([]dbus.ObjectPath{
		"/org/bluez/hci0",
		"/org/bluez/hci0/dev_11_22_33_44_55_66",
		dbus.ObjectPath(dev),
		dbus.ObjectPath(dev + "/service0010"),
		dbus.ObjectPath(dev + "/service0010/char0011"),
		dbus.ObjectPath(dev + "/service0012"),
		dbus.ObjectPath(dev + "/service0012/char0013"),
		dbus.ObjectPath(dev + "/service0012/char0014"),
	}, paths)
}

func (s *IntrospectorTestSuite) TestEnumerateManagedObjects_Malformed() {
	tests := []struct {
		name string
		body []interface{}
	}{
		{
			name: "top level is not a container",
			body: []interface{}{"oops"},
		},
		{
			name: "entry key is not an object path",
			body: []interface{}{map[string]map[string]map[string]dbus.Variant{"/org/bluez": {}}},
		},
		{
			name: "entry is missing its payload",
			body: []interface{}{[]interface{}{[]interface{}{dbus.ObjectPath("/org/bluez")}}},
		},
		{
			name: "entry has trailing values",
			body: []interface{}{[]interface{}{[]interface{}{dbus.ObjectPath("/a"), 1, 2}}},
		},
		{
			name: "empty reply",
			body: []interface{}{},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Bus.OverrideReply(getManagedObjects, tt.body...)

			paths, err := s.intro.EnumerateManagedObjects(context.Background())
			var perr *bus.ParseError
			s.ErrorAs(err, &perr)
			s.Nil(paths, "no partial result on malformed reply")
		})
	}
}

func (s *IntrospectorTestSuite) TestEnumerateManagedObjects_RemoteFailure() {
	s.Bus.FailWith(getManagedObjects, "", testutils.ErrNameFailed, "not ready")

	_, err := s.intro.EnumerateManagedObjects(context.Background())
	var rc *bus.RemoteCallError
	s.ErrorAs(err, &rc)
}

func (s *IntrospectorTestSuite) TestClassify() {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")

	tests := []struct {
		name string
		path dbus.ObjectPath
		want introspect.Classification
	}{
		{name: "adapter", path: "/org/bluez/hci0", want: introspect.Classification{}},
		{name: "device", path: dev, want: introspect.Classification{IsDevice: true}},
		{name: "service", path: dev + "/service0010", want: introspect.Classification{IsService: true}},
		{name: "characteristic", path: dev + "/service0012/char0013", want: introspect.Classification{IsCharacteristic: true}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.intro.Classify(context.Background(), tt.path)
			s.Require().NoError(err)
			s.Equal(tt.want, got)
		})
	}

	s.Run("unknown object", func() {
		_, err := s.intro.Classify(context.Background(), "/org/bluez/hci9")
		s.Error(err)
	})
}

func (s *IntrospectorTestSuite) TestEnumerateResetsIntrospectionCache() {
	ctx := context.Background()
	introspectMember := bluez.Member(bluez.IntrospectInterface, bluez.MethodIntrospect)

	_, err := s.intro.Classify(ctx, "/org/bluez/hci0")
	s.Require().NoError(err)
	_, err = s.intro.Classify(ctx, "/org/bluez/hci0")
	s.Require().NoError(err)
	s.Len(s.Bus.Calls(introspectMember), 1)

	_, err = s.intro.EnumerateManagedObjects(ctx)
	s.Require().NoError(err)
	_, err = s.intro.Classify(ctx, "/org/bluez/hci0")
	s.Require().NoError(err)
	s.Len(s.Bus.Calls(introspectMember), 2)
}

func (s *IntrospectorTestSuite) TestWalk() {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	var services, chars []dbus.ObjectPath

	err := s.intro.Walk(context.Background(), dev, func(p dbus.ObjectPath, c introspect.Classification) error {
		switch {
		case c.IsService:
			services = append(services, p)
		case c.IsCharacteristic:
			chars = append(chars, p)
		}
		return nil
	})
	s.Require().NoError(err)
	s.Equal([]dbus.ObjectPath{dev + "/service0010", dev + "/service0012"}, services)
	s.Len(chars, 3)
}

func TestIntrospectorTestSuite(t *testing.T) {
	suite.Run(t, new(IntrospectorTestSuite))
}
