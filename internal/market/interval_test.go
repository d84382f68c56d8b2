package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		key  string
		want time.Duration
	}{
		{"1m", "1m", time.Minute},
		{" 15M ", "15m", 15 * time.Minute},
		{"60m", "1h", time.Hour},
		{"90m", "90m", 90 * time.Minute},
		{"4h", "4h", 4 * time.Hour},
		{"1d", "1d", 24 * time.Hour},
		{"7d", "1w", 7 * 24 * time.Hour},
		{"1wk", "1w", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			iv, err := ParseInterval(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.key, iv.Key)
			assert.Equal(t, tt.want, iv.Duration)
		})
	}
}

func TestParseInterval_Invalid(t *testing.T) {
	for _, in := range []string{"", "m", "0m", "-5m", "7m", "1y", "abc"} {
		_, err := ParseInterval(in)
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr), "input %q", in)
	}
}

func TestInterval_ExpectedBars(t *testing.T) {
	iv := MustInterval("1h")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(24), iv.ExpectedBars(FetchWindow{Start: start, End: start.Add(24 * time.Hour)}))
	assert.Equal(t, int64(2), iv.ExpectedBars(FetchWindow{Start: start, End: start.Add(61 * time.Minute)}))
	assert.Zero(t, iv.ExpectedBars(FetchWindow{Start: start, End: start}))
	assert.Equal(t, start, iv.AlignDown(start.Add(59*time.Minute)))
}

func TestSupportedIntervals_Ordered(t *testing.T) {
	keys := SupportedIntervals()
	require.NotEmpty(t, keys)
	assert.Equal(t, "1m", keys[0])
	assert.Equal(t, "1w", keys[len(keys)-1])
}
