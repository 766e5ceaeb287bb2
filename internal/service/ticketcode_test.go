package service

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codePattern = regexp.MustCompile(`^SKR-[0-9A-Z]+-[0-9A-Z]{4}$`)

func TestCodeGeneratorShape(t *testing.T) {
	g := NewCodeGenerator(nil, nil)
	for i := 0; i < 500; i++ {
		before := time.Now()
		code := g.Next()
		require.Regexp(t, codePattern, code)

		issued, ok := CodeTimestamp(code)
		require.True(t, ok)
		assert.WithinDuration(t, before, issued, time.Second)
	}
}

func TestCodeGeneratorIsDeterministicWithInjectedSources(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	digits := []int{10, 35, 0, 1}
	i := 0
	g := NewCodeGenerator(func() time.Time { return at }, func(int) int {
		d := digits[i%len(digits)]
		i++
		return d
	})

	assert.Equal(t, "SKR-LOYW3V28-AZ01", g.Next())
}

func TestCodeTimestampRejectsForeignCodes(t *testing.T) {
	for _, code := range []string{"", "ABC-1-ABCD", "SKR-!!-ABCD", "SKR-1"} {
		_, ok := CodeTimestamp(code)
		assert.False(t, ok, code)
	}
}
