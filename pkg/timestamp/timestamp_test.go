package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	testTime   = time.Date(2023, 1, 15, 12, 30, 45, 123456789, time.UTC)
	testTimeMs = int64(1673785845123)
)

func TestToUnixMs(t *testing.T) {
	assert.Equal(t, testTimeMs, ToUnixMs(testTime))
	assert.Equal(t, testTimeMs, ToUnixMs(testTime.In(time.FixedZone("UTC+5", 5*3600))))
	assert.Zero(t, ToUnixMs(time.Time{}))
}

func TestFromUnixMs(t *testing.T) {
	got := FromUnixMs(testTimeMs)
	assert.True(t, got.Equal(testTime.Truncate(time.Millisecond)))
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, FromUnixMs(0).IsZero())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want string
	}{
		{name: "millisecond precision", ms: testTimeMs, want: "2023-01-15T12:30:45.123Z"},
		{name: "whole second keeps zeros", ms: 1673785845000, want: "2023-01-15T12:30:45.000Z"},
		{name: "unset", ms: 0, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.ms))
		})
	}
}

func TestSince(t *testing.T) {
	assert.Zero(t, Since(0))

	d := Since(ToUnixMs(time.Now().Add(-time.Minute)))
	assert.GreaterOrEqual(t, d, time.Minute)
	assert.Less(t, d, time.Minute+5*time.Second)
}
