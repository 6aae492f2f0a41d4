package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	result := c.Now()
	after := time.Now()

	assert.False(t, result.Before(before))
	assert.False(t, result.After(after))
	assert.GreaterOrEqual(t, c.NowUnixMilli(), before.UnixMilli())
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.UnixMilli(), c.NowUnixMilli())

	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())

	c.Advance(-time.Hour)
	assert.Equal(t, start.Add(30*time.Minute), c.Now())

	later := time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestMockClockConcurrentAccess(t *testing.T) {
	c := NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 50, 0, time.UTC), c.Now())
}

func TestServiceDate(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	tests := []struct {
		name     string
		t        time.Time
		loc      *time.Location
		expected time.Time
	}{
		{
			name:     "same zone",
			t:        time.Date(2024, 3, 11, 9, 10, 0, 0, la),
			loc:      la,
			expected: time.Date(2024, 3, 11, 0, 0, 0, 0, la),
		},
		{
			name:     "utc instant on the previous local day",
			t:        time.Date(2024, 3, 12, 3, 0, 0, 0, time.UTC),
			loc:      la,
			expected: time.Date(2024, 3, 11, 0, 0, 0, 0, la),
		},
		{
			name:     "nil location keeps the time's zone",
			t:        time.Date(2024, 3, 11, 23, 59, 59, 0, time.UTC),
			expected: time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.expected.Equal(ServiceDate(tt.t, tt.loc)))
		})
	}
}

func TestSecondsSince(t *testing.T) {
	date := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 33000.0, SecondsSince(date, date.Add(9*time.Hour+10*time.Minute)))
	assert.Equal(t, 90000.0, SecondsSince(date, date.Add(25*time.Hour)))
}

func TestParseServiceDate(t *testing.T) {
	d, err := ParseServiceDate("20240311", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseServiceDate("2024-03-11", nil)
	assert.Error(t, err)
}
