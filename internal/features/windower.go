package features

import "telemetry-ml/internal/domain"

// WindowCount returns how many training windows a series of length n yields.
func WindowCount(n, seqLen, horizon int) int {
	if seqLen <= 0 || horizon <= 0 {
		return 0
	}
	if c := n - seqLen - horizon; c > 0 {
		return c
	}
	return 0
}

// Windows slides a window of seqLen+horizon over series one step at a time,
// producing X = series[i:i+seqLen] and Y = series[i+seqLen:i+seqLen+horizon]
// for i in [0, n-seqLen-horizon). The returned slices are copies.
func Windows(series []float64, seqLen, horizon int) []domain.Sequence {
	count := WindowCount(len(series), seqLen, horizon)
	out := make([]domain.Sequence, count)
	for i := 0; i < count; i++ {
		x := make([]float64, seqLen)
		y := make([]float64, horizon)
		copy(x, series[i:i+seqLen])
		copy(y, series[i+seqLen:i+seqLen+horizon])
		out[i] = domain.Sequence{X: x, Y: y}
	}
	return out
}
