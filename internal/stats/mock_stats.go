package stats

import "github.com/stretchr/testify/mock"

var (
	_ StatsProvider = (*MockStatsUpdater)(nil)
	_ StatsProvider = (*StatsUpdater)(nil)
	_ StatsProvider = Nop{}
)

// MockStatsUpdater records metric updates for assertions in tests.
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

// AllowAll lets any metric be registered or updated without expectations.
func (m *MockStatsUpdater) AllowAll() *MockStatsUpdater {
	m.On("RegisterMetric", mock.Anything).Maybe()
	m.On("Incr", mock.Anything).Maybe()
	m.On("Decr", mock.Anything).Maybe()
	return m
}
