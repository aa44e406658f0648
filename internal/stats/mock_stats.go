package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater stands in for the StatsProvider in tests where metric
// traffic is incidental to the behavior under test. Register the expected
// metric names up front and mark Incr/Decr as Maybe when broadcast volume
// is nondeterministic.
type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Decr(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) RegisterMetric(name string) {
	m.Called(name)
}

func (m *MockStatsUpdater) Run() {
	m.Called()
}
