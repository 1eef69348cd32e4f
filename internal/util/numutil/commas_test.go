package numutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1_000_000, "1,000,000"},
		{-1234567, "-1,234,567"},
		{math.MinInt64, "-9,223,372,036,854,775,808"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, WithCommas(tt.in))
		})
	}

	assert.Equal(t, "18,446,744,073,709,551,615", WithCommas(uint64(math.MaxUint64)))
	assert.Equal(t, "10,000", WithCommas(10_000))
}

func TestRate(t *testing.T) {
	assert.Equal(t, "12,345.7/s", Rate(12345.67))
	assert.Equal(t, "0.0/s", Rate(0))
	assert.Equal(t, "n/a", Rate(math.Inf(1)))
}
