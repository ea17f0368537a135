package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDCBlockerRemovesOffset(t *testing.T) {
	dc := NewDCBlocker(16000, 20)

	in := make([]float64, 16000)
	for i := range in {
		in[i] = 0.5 + 0.25*math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	out := dc.Apply(in)

	// mean of the settled second half is close to zero
	sum := 0.0
	for _, v := range out[8000:] {
		sum += v
	}
	assert.InDelta(t, 0, sum/8000, 1e-3)

	peak := 0.0
	for _, v := range out[8000:] {
		peak = max(peak, math.Abs(v))
	}
	assert.InDelta(t, 0.25, peak, 0.01, "440 Hz passes")
}

func TestDCBlockerPole(t *testing.T) {
	assert.InDelta(t, 1-2*math.Pi*20/16000, NewDCBlocker(16000, 20).Pole(), 1e-12)
	assert.Equal(t, 0.995, NewDCBlocker(0, 20).Pole())
	assert.Equal(t, 0.001, NewDCBlocker(100, 1000).Pole())
}

func TestDCBlockerReset(t *testing.T) {
	dc := NewDCBlocker(8000, 10)
	first := dc.Apply([]float64{1, 1, 1})
	dc.Reset()
	assert.Equal(t, first, dc.Apply([]float64{1, 1, 1}))
	assert.Empty(t, dc.Apply(nil))
}
