package progressbar

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualProgressBar(t *testing.T) {
	var out bytes.Buffer
	p := NewManualProgressBar(&out, 10, 200)

	p.Increment(50)
	assert.Equal(t, 0.25, p.Fraction())
	assert.Equal(t, 2, strings.Count(p.String(), "█"))
	assert.Contains(t, p.String(), "25.00%")

	p.Set(1000)
	assert.Equal(t, 1.0, p.Fraction(), "progress saturates")
	assert.Equal(t, 10, strings.Count(p.String(), "█"))

	p.Display()
	p.Close()
	assert.Contains(t, out.String(), "100.00%")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}
