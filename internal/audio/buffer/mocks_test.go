package buffer

import (
	"github.com/stretchr/testify/mock"
)

// MockAllocator mocks Allocator
type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(size int) ([]byte, error) {
	args := m.Called(size)
	region, _ := args.Get(0).([]byte)
	return region, args.Error(1)
}

func (m *MockAllocator) Free(region []byte) error {
	args := m.Called(region)
	return args.Error(0)
}

// MockLogger mocks audio.Logger
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string, args ...interface{}) {
	m.Called(append([]interface{}{msg}, args...)...)
}

func (m *MockLogger) Info(msg string, args ...interface{}) {
	m.Called(append([]interface{}{msg}, args...)...)
}

func (m *MockLogger) Warn(msg string, args ...interface{}) {
	m.Called(append([]interface{}{msg}, args...)...)
}

func (m *MockLogger) Error(msg string, args ...interface{}) {
	m.Called(append([]interface{}{msg}, args...)...)
}
