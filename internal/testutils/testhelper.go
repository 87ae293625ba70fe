package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Context returns a context cancelled when the test ends or the timeout elapses.
func (h *TestHelper) Context(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	h.T.Cleanup(cancel)
	return ctx
}

func CreateFakeBus() *FakeBusBuilder {
	return NewFakeBusBuilder()
}

func CreateFakeBusFromJSON(jsonStrFmt string, args ...interface{}) *FakeBusBuilder {
	return NewFakeBusBuilder().FromJSON(jsonStrFmt, args...)
}

// FirmataProfile is a UART-style peripheral with the FIRMATA TX/RX pair.
const FirmataProfile = `{
	"devices": [
		{
			"address": "AA:BB:CC:DD:EE:FF",
			"name": "FIRMATA",
			"services": [
				{
					"uuid": "00001801-0000-1000-8000-00805f9b34fb",
					"characteristics": [
						{"uuid": "00002a05-0000-1000-8000-00805f9b34fb"}
					]
				},
				{
					"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
					"characteristics": [
						{"uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e"},
						{"uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "value": [80, 73, 78, 71]}
					]
				}
			]
		},
		{
			"address": "11:22:33:44:55:66",
			"name": "HeartRate"
		}
	]
}`
