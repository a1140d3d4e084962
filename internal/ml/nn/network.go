package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Architecture describes the layer stack. Every LSTM but the last returns its
// full sequence; each LSTM is followed by dropout.
type Architecture struct {
	SeqLen     int     `json:"seqLen"`
	InputSize  int     `json:"inputSize"`
	LSTMUnits  []int   `json:"lstmUnits"`
	DenseUnits int     `json:"denseUnits"`
	Outputs    int     `json:"outputs"`
	Dropout    float64 `json:"dropout"`
}

// Validate checks the architecture for buildable dimensions.
func (a Architecture) Validate() error {
	if a.SeqLen <= 0 || a.InputSize <= 0 || a.Outputs <= 0 || a.DenseUnits <= 0 {
		return fmt.Errorf("architecture: dimensions must be positive")
	}
	if len(a.LSTMUnits) == 0 {
		return fmt.Errorf("architecture: at least one LSTM layer required")
	}
	for i, u := range a.LSTMUnits {
		if u <= 0 {
			return fmt.Errorf("architecture: lstm layer %d has %d units", i, u)
		}
	}
	if a.Dropout < 0 || a.Dropout >= 1 {
		return fmt.Errorf("architecture: dropout %v out of range [0, 1)", a.Dropout)
	}
	return nil
}

// Network is LSTM x N -> Dense(relu) -> Dense(linear).
type Network struct {
	Arch   Architecture `json:"arch"`
	LSTMs  []*LSTM      `json:"lstms"`
	Hidden *Dense       `json:"hidden"`
	Output *Dense       `json:"output"`
}

// New initializes a network with seeded weights.
func New(arch Architecture, seed int64) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	n := &Network{Arch: arch}
	in := arch.InputSize
	for _, units := range arch.LSTMUnits {
		n.LSTMs = append(n.LSTMs, newLSTM(in, units, rng))
		in = units
	}
	n.Hidden = newDense(in, arch.DenseUnits, true, rng)
	n.Output = newDense(arch.DenseUnits, arch.Outputs, false, rng)
	return n, nil
}

// Predict runs inference on one univariate input window of length SeqLen.
func (n *Network) Predict(window []float64) ([]float64, error) {
	if n.Arch.InputSize != 1 {
		return nil, fmt.Errorf("predict: network expects %d inputs per step", n.Arch.InputSize)
	}
	if len(window) != n.Arch.SeqLen {
		return nil, fmt.Errorf("predict: window length %d, want %d", len(window), n.Arch.SeqLen)
	}
	tr := n.forward(toSteps(window), nil)
	return tr.out, nil
}

// Validate checks the weights read back from storage against the architecture.
func (n *Network) Validate() error {
	if err := n.Arch.Validate(); err != nil {
		return err
	}
	if len(n.LSTMs) != len(n.Arch.LSTMUnits) || n.Hidden == nil || n.Output == nil {
		return fmt.Errorf("network: layers do not match architecture")
	}
	in := n.Arch.InputSize
	for i, l := range n.LSTMs {
		u := n.Arch.LSTMUnits[i]
		if l.In != in || l.Units != u || len(l.W) != 4*u*in || len(l.U) != 4*u*u || len(l.B) != 4*u {
			return fmt.Errorf("network: lstm layer %d has wrong shape", i)
		}
		in = u
	}
	if n.Hidden.In != in || n.Hidden.Out != n.Arch.DenseUnits || len(n.Hidden.W) != in*n.Arch.DenseUnits {
		return fmt.Errorf("network: hidden layer has wrong shape")
	}
	if n.Output.In != n.Arch.DenseUnits || n.Output.Out != n.Arch.Outputs || len(n.Output.W) != n.Arch.DenseUnits*n.Arch.Outputs {
		return fmt.Errorf("network: output layer has wrong shape")
	}
	for _, p := range n.params() {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("network: non-finite weight")
			}
		}
	}
	return nil
}

// trace keeps the activations of one forward pass.
type trace struct {
	inputs [][][]float64 // input sequence of each LSTM layer
	steps  [][]lstmStep
	masks  [][][]float64 // dropout masks; nil when not training
	last   []float64     // final hidden state after dropout
	hidden []float64
	out    []float64
}

// forward runs one sample. A nil rng disables dropout (inference).
func (n *Network) forward(xs [][]float64, rng *rand.Rand) *trace {
	tr := &trace{
		inputs: make([][][]float64, len(n.LSTMs)),
		steps:  make([][]lstmStep, len(n.LSTMs)),
		masks:  make([][][]float64, len(n.LSTMs)),
	}

	seq := xs
	lastLayer := len(n.LSTMs) - 1
	for li, layer := range n.LSTMs {
		tr.inputs[li] = seq
		hs, steps := layer.forward(seq)
		tr.steps[li] = steps

		if li < lastLayer {
			seq = make([][]float64, len(hs))
			masks := make([][]float64, len(hs))
			for t, h := range hs {
				seq[t], masks[t] = n.dropout(h, rng)
			}
			tr.masks[li] = masks
			continue
		}
		var mask []float64
		tr.last, mask = n.dropout(hs[len(hs)-1], rng)
		tr.masks[li] = [][]float64{mask}
	}

	tr.hidden = n.Hidden.forward(tr.last)
	tr.out = n.Output.forward(tr.hidden)
	return tr
}

// backward accumulates parameter gradients for dL/dout into grad.
func (n *Network) backward(tr *trace, dOut []float64, grad *Network) {
	dHidden := n.Output.backward(tr.hidden, tr.out, dOut, grad.Output)
	dLast := n.Hidden.backward(tr.last, tr.hidden, dHidden, grad.Hidden)

	li := len(n.LSTMs) - 1
	T := len(tr.steps[li])
	dhs := make([][]float64, T)
	dhs[T-1] = applyMask(dLast, tr.masks[li][0])

	for ; li >= 0; li-- {
		dxs := n.LSTMs[li].backward(tr.steps[li], dhs, grad.LSTMs[li], li > 0)
		if li == 0 {
			break
		}
		prevMasks := tr.masks[li-1]
		dhs = make([][]float64, len(dxs))
		for t, dx := range dxs {
			dhs[t] = applyMask(dx, prevMasks[t])
		}
	}
}

// dropout applies inverted dropout and returns the mask used (nil at inference).
func (n *Network) dropout(h []float64, rng *rand.Rand) ([]float64, []float64) {
	if rng == nil || n.Arch.Dropout == 0 {
		return h, nil
	}
	keep := 1 - n.Arch.Dropout
	out := make([]float64, len(h))
	mask := make([]float64, len(h))
	for k, v := range h {
		if rng.Float64() < keep {
			mask[k] = 1 / keep
			out[k] = v * mask[k]
		}
	}
	return out, mask
}

func applyMask(g, mask []float64) []float64 {
	if mask == nil {
		return g
	}
	out := make([]float64, len(g))
	for k := range g {
		out[k] = g[k] * mask[k]
	}
	return out
}

// params lists every weight slice in a fixed order shared with zeroLike.
func (n *Network) params() [][]float64 {
	var ps [][]float64
	for _, l := range n.LSTMs {
		ps = append(ps, l.W, l.U, l.B)
	}
	return append(ps, n.Hidden.W, n.Hidden.B, n.Output.W, n.Output.B)
}

// zeroLike returns a network of the same shape with all weights zero,
// used as a gradient accumulator.
func (n *Network) zeroLike() *Network {
	z := &Network{Arch: n.Arch}
	for _, l := range n.LSTMs {
		z.LSTMs = append(z.LSTMs, &LSTM{
			In: l.In, Units: l.Units,
			W: make([]float64, len(l.W)), U: make([]float64, len(l.U)), B: make([]float64, len(l.B)),
		})
	}
	z.Hidden = &Dense{In: n.Hidden.In, Out: n.Hidden.Out, W: make([]float64, len(n.Hidden.W)), B: make([]float64, len(n.Hidden.B)), ReLU: n.Hidden.ReLU}
	z.Output = &Dense{In: n.Output.In, Out: n.Output.Out, W: make([]float64, len(n.Output.W)), B: make([]float64, len(n.Output.B)), ReLU: n.Output.ReLU}
	return z
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	c := n.zeroLike()
	src, dst := n.params(), c.params()
	for i := range src {
		copy(dst[i], src[i])
	}
	return c
}

func (n *Network) copyFrom(other *Network) {
	src, dst := other.params(), n.params()
	for i := range src {
		copy(dst[i], src[i])
	}
}

func toSteps(window []float64) [][]float64 {
	xs := make([][]float64, len(window))
	for t, v := range window {
		xs[t] = []float64{v}
	}
	return xs
}
