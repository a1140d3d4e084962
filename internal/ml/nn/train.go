package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Example is one supervised window: X has SeqLen values, Y has Outputs values.
type Example struct {
	X []float64
	Y []float64
}

// TrainConfig controls the optimization loop.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	Patience     int // epochs without validation improvement before stopping
	LearningRate float64
	ClipNorm     float64 // global gradient norm cap, 0 disables
	Seed         int64
	Workers      int // gradient workers per mini-batch, 0 = GOMAXPROCS
}

// EpochStats reports one completed epoch.
type EpochStats struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
}

// History summarizes a Fit call.
type History struct {
	Epochs       []EpochStats
	BestEpoch    int
	BestLoss     float64
	StoppedEarly bool
}

// Fit trains n in place on MSE with Adam. Mini-batches are drawn in a seeded
// shuffled order from train; val is evaluated after every epoch and drives early
// stopping. When val is empty the training loss is monitored instead. On return
// the network holds the best-monitored weights. ctx is checked per mini-batch;
// a cancelled fit returns ctx.Err() and leaves n in an unspecified state.
func (n *Network) Fit(ctx context.Context, train, val []Example, cfg TrainConfig, onEpoch func(EpochStats)) (*History, error) {
	if len(train) == 0 {
		return nil, fmt.Errorf("fit: no training examples")
	}
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("fit: epochs, batch size and learning rate must be positive")
	}
	for i, ex := range train {
		if err := n.checkExample(ex); err != nil {
			return nil, fmt.Errorf("fit: train example %d: %w", i, err)
		}
	}
	for i, ex := range val {
		if err := n.checkExample(ex); err != nil {
			return nil, fmt.Errorf("fit: validation example %d: %w", i, err)
		}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > cfg.BatchSize {
		workers = cfg.BatchSize
	}

	params := n.params()
	opt := newAdam(cfg.LearningRate, params)
	rng := rand.New(rand.NewSource(cfg.Seed))

	total := n.zeroLike()
	shards := make([]*Network, workers)
	for w := range shards {
		shards[w] = n.zeroLike()
	}

	hist := &History{BestLoss: math.Inf(1)}
	best := n.Clone()
	wait := 0
	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		lossSum := 0.0
		for start := 0; start < len(order); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]

			seeds := make([]int64, len(batch))
			for i := range seeds {
				seeds[i] = rng.Int63()
			}

			batchLoss, err := n.batchGradients(ctx, train, batch, seeds, shards, total)
			if err != nil {
				return nil, err
			}
			lossSum += batchLoss

			grads := total.params()
			clipGlobalNorm(grads, cfg.ClipNorm)
			opt.step(params, grads)
		}

		stats := EpochStats{Epoch: epoch, TrainLoss: lossSum / float64(len(train))}
		if math.IsNaN(stats.TrainLoss) || math.IsInf(stats.TrainLoss, 0) {
			return nil, fmt.Errorf("fit: training diverged at epoch %d", epoch)
		}

		monitored := stats.TrainLoss
		if len(val) > 0 {
			vl, err := n.Evaluate(ctx, val, workers)
			if err != nil {
				return nil, err
			}
			stats.ValLoss = vl
			monitored = vl
		}
		hist.Epochs = append(hist.Epochs, stats)
		if onEpoch != nil {
			onEpoch(stats)
		}

		if monitored < hist.BestLoss {
			hist.BestLoss = monitored
			hist.BestEpoch = epoch
			best.copyFrom(n)
			wait = 0
			continue
		}
		wait++
		if cfg.Patience > 0 && wait >= cfg.Patience {
			hist.StoppedEarly = true
			break
		}
	}

	n.copyFrom(best)
	return hist, nil
}

// batchGradients fills total with the mean-loss gradient of the batch and
// returns the summed per-example loss. Work is fanned out across shards;
// results are reduced in shard order so the outcome does not depend on scheduling.
func (n *Network) batchGradients(ctx context.Context, data []Example, batch []int, seeds []int64, shards []*Network, total *Network) (float64, error) {
	workers := len(shards)
	if workers > len(batch) {
		workers = len(batch)
	}
	losses := make([]float64, workers)
	scale := 2 / float64(len(batch)*n.Arch.Outputs)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			grad := shards[w]
			zero(grad.params())
			for j := w; j < len(batch); j += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				ex := data[batch[j]]
				tr := n.forward(toSteps(ex.X), rand.New(rand.NewSource(seeds[j])))

				dOut := make([]float64, len(tr.out))
				sq := 0.0
				for k, p := range tr.out {
					diff := p - ex.Y[k]
					sq += diff * diff
					dOut[k] = scale * diff
				}
				losses[w] += sq / float64(len(tr.out))
				n.backward(tr, dOut, grad)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	dst := total.params()
	zero(dst)
	sum := 0.0
	for w := 0; w < workers; w++ {
		src := shards[w].params()
		for i := range dst {
			for k, v := range src[i] {
				dst[i][k] += v
			}
		}
		sum += losses[w]
	}
	return sum, nil
}

// Evaluate returns the mean squared error over examples without dropout.
func (n *Network) Evaluate(ctx context.Context, examples []Example, workers int) (float64, error) {
	if len(examples) == 0 {
		return 0, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(examples) {
		workers = len(examples)
	}

	losses := make([]float64, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for j := w; j < len(examples); j += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				ex := examples[j]
				out := n.forward(toSteps(ex.X), nil).out
				sq := 0.0
				for k, p := range out {
					diff := p - ex.Y[k]
					sq += diff * diff
				}
				losses[w] += sq / float64(len(out))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	sum := 0.0
	for _, l := range losses {
		sum += l
	}
	return sum / float64(len(examples)), nil
}

func (n *Network) checkExample(ex Example) error {
	if len(ex.X) != n.Arch.SeqLen {
		return fmt.Errorf("input length %d, want %d", len(ex.X), n.Arch.SeqLen)
	}
	if len(ex.Y) != n.Arch.Outputs {
		return fmt.Errorf("target length %d, want %d", len(ex.Y), n.Arch.Outputs)
	}
	return nil
}

func zero(ps [][]float64) {
	for _, p := range ps {
		for k := range p {
			p[k] = 0
		}
	}
}
