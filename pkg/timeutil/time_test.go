package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow_ReturnsUTC(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(base)

	assert.Equal(t, base, clock.Now())

	clock.Advance(15 * time.Minute)
	assert.Equal(t, base.Add(15*time.Minute), clock.Now())

	clock.Set(base)
	assert.Equal(t, base, clock.Now())
}

func TestSystemClock_TracksWallClock(t *testing.T) {
	clock := SystemClock{}
	before := time.Now().UTC()
	got := clock.Now()
	after := time.Now().UTC()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
