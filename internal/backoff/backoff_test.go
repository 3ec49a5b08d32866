package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewhooks/internal/backoff"
)

func TestNone_IsImmediate(t *testing.T) {
	for retry := 1; retry <= 5; retry++ {
		assert.Zero(t, backoff.None{}.Delay(retry))
	}
}

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.Constant{Interval: 5 * time.Second}
	assert.Equal(t, 5*time.Second, c.Delay(1))
	assert.Equal(t, 5*time.Second, c.Delay(10))
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second, Max: 10 * time.Second}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
		{36, 10 * time.Second},
		{100, 10 * time.Second},
		{5000, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Delay(tt.retry), "retry %d", tt.retry)
	}
}

func TestJitter_StaysWithinBounds(t *testing.T) {
	j := backoff.Jitter{Initial: 100 * time.Millisecond, Max: time.Second}
	for retry := 1; retry <= 10; retry++ {
		for range 50 {
			d := j.Delay(retry)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, time.Second)
		}
	}
}

func TestJitter_LargeRetriesStayCapped(t *testing.T) {
	j := backoff.Jitter{Initial: time.Second, Max: time.Minute}
	for _, retry := range []int{35, 36, 64, 100, 5000} {
		for range 50 {
			d := j.Delay(retry)
			assert.GreaterOrEqual(t, d, time.Duration(0), "retry %d", retry)
			assert.LessOrEqual(t, d, time.Minute, "retry %d", retry)
		}
	}
}

func TestExponential_UncappedNeverOverflows(t *testing.T) {
	e := backoff.Exponential{Initial: time.Second}
	for _, retry := range []int{34, 35, 64, 100, 5000} {
		assert.Positive(t, e.Delay(retry), "retry %d", retry)
	}
	assert.Zero(t, backoff.Exponential{Max: time.Minute}.Delay(100))
}

func TestParse(t *testing.T) {
	s, err := backoff.Parse("", time.Second, time.Minute)
	require.NoError(t, err)
	assert.IsType(t, backoff.None{}, s)

	s, err = backoff.Parse("exponential", time.Second, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, backoff.Exponential{Initial: time.Second, Max: time.Minute}, s)

	_, err = backoff.Parse("fibonacci", time.Second, time.Minute)
	assert.Error(t, err)
}
