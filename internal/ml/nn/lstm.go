// Package nn is a small recurrent network used by the forecaster: stacked LSTM
// layers with ReLU cell activation, dropout, two dense layers, trained with Adam
// on mean squared error.
package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// LSTM is one recurrent layer. Gate blocks in W, U and B are ordered i|f|g|o.
type LSTM struct {
	In    int       `json:"in"`
	Units int       `json:"units"`
	W     []float64 `json:"w"` // 4*Units rows of In
	U     []float64 `json:"u"` // 4*Units rows of Units
	B     []float64 `json:"b"`
}

// lstmStep caches one timestep of the forward pass for backpropagation.
type lstmStep struct {
	x, hPrev, cPrev []float64
	i, f, g, o, c   []float64
	zg              []float64
}

func newLSTM(in, units int, rng *rand.Rand) *LSTM {
	l := &LSTM{
		In:    in,
		Units: units,
		W:     make([]float64, 4*units*in),
		U:     make([]float64, 4*units*units),
		B:     make([]float64, 4*units),
	}
	glorotUniform(rng, l.W, in, 4*units)
	for gate := 0; gate < 4; gate++ {
		orthogonal(rng, l.U[gate*units*units:(gate+1)*units*units], units)
	}
	// forget gate bias starts at 1
	for k := units; k < 2*units; k++ {
		l.B[k] = 1
	}
	return l
}

// forward runs the layer over xs and returns the hidden state of every step.
func (l *LSTM) forward(xs [][]float64) ([][]float64, []lstmStep) {
	u := l.Units
	h := make([]float64, u)
	c := make([]float64, u)
	z := make([]float64, 4*u)

	hs := make([][]float64, len(xs))
	steps := make([]lstmStep, len(xs))
	for t, x := range xs {
		for r := 0; r < 4*u; r++ {
			z[r] = l.B[r] + floats.Dot(l.W[r*l.In:(r+1)*l.In], x) + floats.Dot(l.U[r*u:(r+1)*u], h)
		}

		st := lstmStep{
			x: x, hPrev: h, cPrev: c,
			i: make([]float64, u), f: make([]float64, u), g: make([]float64, u),
			o: make([]float64, u), c: make([]float64, u), zg: make([]float64, u),
		}
		next := make([]float64, u)
		for k := 0; k < u; k++ {
			st.i[k] = sigmoid(z[k])
			st.f[k] = sigmoid(z[u+k])
			st.zg[k] = z[2*u+k]
			st.g[k] = relu(st.zg[k])
			st.o[k] = sigmoid(z[3*u+k])
			st.c[k] = st.f[k]*c[k] + st.i[k]*st.g[k]
			next[k] = st.o[k] * relu(st.c[k])
		}

		h, c = next, st.c
		hs[t] = next
		steps[t] = st
	}
	return hs, steps
}

// backward propagates dhs (nil entries mean no upstream gradient at that step)
// through time, accumulating into grad. Input gradients are returned only when
// wantInput is set.
func (l *LSTM) backward(steps []lstmStep, dhs [][]float64, grad *LSTM, wantInput bool) [][]float64 {
	u := l.Units
	dhNext := make([]float64, u)
	dcNext := make([]float64, u)
	dz := make([]float64, 4*u)

	var dxs [][]float64
	if wantInput {
		dxs = make([][]float64, len(steps))
	}

	for t := len(steps) - 1; t >= 0; t-- {
		st := steps[t]
		for k := 0; k < u; k++ {
			dh := dhNext[k]
			if dhs[t] != nil {
				dh += dhs[t][k]
			}
			dc := dcNext[k]
			if st.c[k] > 0 {
				dc += dh * st.o[k]
			}
			do := dh * relu(st.c[k])

			dz[k] = dc * st.g[k] * st.i[k] * (1 - st.i[k])
			dz[u+k] = dc * st.cPrev[k] * st.f[k] * (1 - st.f[k])
			if st.zg[k] > 0 {
				dz[2*u+k] = dc * st.i[k]
			} else {
				dz[2*u+k] = 0
			}
			dz[3*u+k] = do * st.o[k] * (1 - st.o[k])
			dcNext[k] = dc * st.f[k]
		}

		for k := range dhNext {
			dhNext[k] = 0
		}
		var dx []float64
		if wantInput {
			dx = make([]float64, l.In)
		}
		for r := 0; r < 4*u; r++ {
			d := dz[r]
			if d == 0 {
				continue
			}
			floats.AddScaled(grad.W[r*l.In:(r+1)*l.In], d, st.x)
			floats.AddScaled(grad.U[r*u:(r+1)*u], d, st.hPrev)
			grad.B[r] += d
			floats.AddScaled(dhNext, d, l.U[r*u:(r+1)*u])
			if wantInput {
				floats.AddScaled(dx, d, l.W[r*l.In:(r+1)*l.In])
			}
		}
		if wantInput {
			dxs[t] = dx
		}
	}
	return dxs
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// glorotUniform fills w with U(-limit, limit), limit = sqrt(6/(fanIn+fanOut)).
func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// orthogonal fills the n x n block w with an orthonormal basis built by
// Gram-Schmidt over gaussian rows.
func orthogonal(rng *rand.Rand, w []float64, n int) {
	for r := 0; r < n; r++ {
		row := w[r*n : (r+1)*n]
		for {
			for k := range row {
				row[k] = rng.NormFloat64()
			}
			for p := 0; p < r; p++ {
				prev := w[p*n : (p+1)*n]
				floats.AddScaled(row, -floats.Dot(row, prev), prev)
			}
			norm := floats.Norm(row, 2)
			if norm > 1e-8 {
				floats.Scale(1/norm, row)
				break
			}
		}
	}
}
