package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBenchVersion(t *testing.T) {
	v := BenchVersion()
	assert.Contains(t, v, "Benchmark "+Version)
	assert.True(t, strings.HasPrefix(v, colorCyanBold))
	assert.True(t, strings.HasSuffix(v, colorReset))
	assert.NotContains(t, v, "%!")
}
