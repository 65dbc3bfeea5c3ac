package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("tick %d", 7)
	assert.Equal(t, []string{"tick 7"}, *lines)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped %s", "line") })
	assert.Len(t, *lines, 1)
}

func TestTaggedFollowsCurrentLogger(t *testing.T) {
	icp := Tagged("icp")
	lines := capture(t)
	icp("relaxation %.2f", 0.125)
	assert.Equal(t, []string{"[icp] relaxation 0.12"}, *lines)

	SetLogger(nil)
	icp("muted")
	assert.Len(t, *lines, 1)
}
