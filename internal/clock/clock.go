// Package clock abstracts the current time so that tracker logic can be
// driven by a fixed clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
	NowUnixMilli() int64
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// MockClock is a settable, thread-safe clock for tests.
type MockClock struct {
	currentTime time.Time
	mu          sync.Mutex
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *MockClock) NowUnixMilli() int64 {
	return m.Now().UnixMilli()
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the clock by d. Negative durations move it backwards.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// ServiceDate returns midnight of t's calendar day in loc. A nil loc uses
// t's own location.
func ServiceDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SecondsSince returns how many seconds after serviceDate t falls. Service
// dates are local midnight, so times past 24:00 keep counting up.
func SecondsSince(serviceDate, t time.Time) float64 {
	return t.Sub(serviceDate).Seconds()
}

// ParseServiceDate parses a YYYYMMDD date at midnight in loc.
func ParseServiceDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("20060102", s, loc)
}
