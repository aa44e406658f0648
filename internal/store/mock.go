package store

import (
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockStore) RecordMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockStore) RecordEdit(op Operation) error {
	args := m.Called(op)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
