package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Dense is a fully connected layer with optional ReLU.
type Dense struct {
	In   int       `json:"in"`
	Out  int       `json:"out"`
	W    []float64 `json:"w"` // Out rows of In
	B    []float64 `json:"b"`
	ReLU bool      `json:"relu"`
}

func newDense(in, out int, relu bool, rng *rand.Rand) *Dense {
	d := &Dense{In: in, Out: out, W: make([]float64, in*out), B: make([]float64, out), ReLU: relu}
	glorotUniform(rng, d.W, in, out)
	return d
}

func (d *Dense) forward(x []float64) []float64 {
	y := make([]float64, d.Out)
	for k := 0; k < d.Out; k++ {
		v := d.B[k] + floats.Dot(d.W[k*d.In:(k+1)*d.In], x)
		if d.ReLU {
			v = relu(v)
		}
		y[k] = v
	}
	return y
}

// backward takes the layer input x, its output y and dL/dy.
func (d *Dense) backward(x, y, dy []float64, grad *Dense) []float64 {
	dx := make([]float64, d.In)
	for k := 0; k < d.Out; k++ {
		g := dy[k]
		if d.ReLU && y[k] <= 0 {
			continue
		}
		if g == 0 {
			continue
		}
		floats.AddScaled(grad.W[k*d.In:(k+1)*d.In], g, x)
		grad.B[k] += g
		floats.AddScaled(dx, g, d.W[k*d.In:(k+1)*d.In])
	}
	return dx
}
