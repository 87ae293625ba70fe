// Package mocks holds testify mocks of the library's interfaces.
package mocks

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a mock of bus.Transport.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Call(ctx context.Context, dest string, path dbus.ObjectPath, member string, args ...interface{}) ([]interface{}, error) {
	ret := m.Called(ctx, dest, path, member, args)

	var body []interface{}
	if fn, ok := ret.Get(0).(func(context.Context, string, dbus.ObjectPath, string, []interface{}) []interface{}); ok {
		body = fn(ctx, dest, path, member, args)
	} else if ret.Get(0) != nil {
		body = ret.Get(0).([]interface{})
	}
	return body, ret.Error(1)
}

func (m *MockTransport) AddMatch(rule string) error {
	return m.Called(rule).Error(0)
}

func (m *MockTransport) Signal(ch chan<- *dbus.Signal) {
	m.Called(ch)
}

func (m *MockTransport) RemoveSignal(ch chan<- *dbus.Signal) {
	m.Called(ch)
}

func (m *MockTransport) Connected() bool {
	return m.Called().Bool(0)
}

func (m *MockTransport) Close() error {
	return m.Called().Error(0)
}
