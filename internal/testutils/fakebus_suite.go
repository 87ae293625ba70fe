package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blez/internal/bus"
	"github.com/stretchr/testify/suite"
)

// FakeBusSuite provides a testify suite whose bus connections all reach a
// shared in-memory BlueZ daemon.
//
// The suite swaps bus.TransportFactory before each test and restores it
// afterwards. Configure the daemon before calling the parent SetupTest:
//
//	type RegistrySuite struct {
//	    testutils.FakeBusSuite
//	}
//
//	func (s *RegistrySuite) SetupTest() {
//	    s.WithBus().WithDevice("AA:BB:CC:DD:EE:FF", "FIRMATA")
//	    s.FakeBusSuite.SetupTest() // call parent last to apply configuration
//	}
type FakeBusSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Bus is the daemon of the current test.
	Bus *FakeBus

	BusBuilder  *FakeBusBuilder
	TestTimeout time.Duration

	originalFactory func() (bus.Transport, error)
}

// SetupSuite runs once before all tests in the suite.
func (s *FakeBusSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.originalFactory = bus.TransportFactory

	s.T().Cleanup(func() {
		if s.originalFactory != nil {
			bus.TransportFactory = s.originalFactory
			s.Logger.Debug("transport factory restored via t.Cleanup")
		}
	})
}

// WithBus returns the builder used by the next SetupTest, creating it if needed.
func (s *FakeBusSuite) WithBus() *FakeBusBuilder {
	if s.BusBuilder == nil {
		s.BusBuilder = NewFakeBusBuilder()
	}
	return s.BusBuilder
}

// SetupTest builds the daemon and installs it as the transport factory.
func (s *FakeBusSuite) SetupTest() {
	if s.BusBuilder == nil {
		s.BusBuilder = NewFakeBusBuilder().FromJSON(FirmataProfile)
	}
	s.Bus = s.BusBuilder.Build()
	bus.TransportFactory = s.Bus.Dial
}

// TearDownTest restores the factory and resets the builder for the next test.
func (s *FakeBusSuite) TearDownTest() {
	bus.TransportFactory = s.originalFactory
	s.BusBuilder = nil
	s.Bus = nil
}

// Connection opens a bus connection to the current daemon, closed at test end.
func (s *FakeBusSuite) Connection() *bus.Connection {
	conn, err := bus.Open(s.Logger)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}
