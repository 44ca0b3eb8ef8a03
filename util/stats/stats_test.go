package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteTable(t *testing.T) {
	ops := make([]Op, 3)
	ops[0].Record(time.Now().Add(-2 * time.Millisecond))
	ops[2].Record(time.Now())
	ops[2].Record(time.Now())
	out := FormatTable([]string{"pass1", "pass1b", "pass2"}, ops)
	assert.Contains(t, out, "pass1 ")
	assert.NotContains(t, out, "pass1b", "phases that never ran are left out")
	assert.Contains(t, out, "pass2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "total"))
	assert.Equal(t, uint32(2), ops[2].Count())
	assert.True(t, ops[0].MicrosPerOp() >= 2000)
}

func TestReset(t *testing.T) {
	var op Op
	op.Record(time.Now())
	op.Reset()
	assert.Equal(t, uint32(0), op.Count())
	assert.Equal(t, float64(0), op.MicrosPerOp())
}
