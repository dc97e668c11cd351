package epipolar

import (
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// trialSeedStride decorrelates per-trial RNG streams derived from one seed.
const trialSeedStride uint64 = 0x9e3779b97f4a7c15

// trialSeed mixes the configured seed with the trial index. The arithmetic
// wraps in uint64; only the final value is reinterpreted as an int64 source.
func trialSeed(seed int64, trial int) int64 {
	return int64(uint64(seed) + uint64(trial)*trialSeedStride)
}

// hypothesis is one scored fundamental-matrix candidate. Trial and root
// index the candidate within the deterministic search order.
type hypothesis struct {
	f       *mat.Dense
	inliers []int
	trial   int
	root    int
}

// better reports whether h wins over o under the deterministic reducer:
// larger inlier count first, then lower trial index, then lower root index.
// The ordering is total, so the winning hypothesis does not depend on how
// trials were scheduled across workers.
func (h *hypothesis) better(o *hypothesis) bool {
	if o == nil {
		return true
	}
	if len(h.inliers) != len(o.inliers) {
		return len(h.inliers) > len(o.inliers)
	}
	if h.trial != o.trial {
		return h.trial < o.trial
	}
	return h.root < o.root
}

// ransacIterations returns the number of trials needed so that the
// probability of never sampling an all-inlier minimal set stays below
// outlierProb, given inlier ratio w and sample size n.
func ransacIterations(w, outlierProb float64, n, cap int) int {
	if w <= 0 {
		return cap
	}
	if w >= 1 {
		return 1
	}
	denom := math.Log(1 - math.Pow(w, float64(n)))
	if denom >= 0 {
		return cap
	}
	needed := int(math.Ceil(math.Log(outlierProb) / denom))
	if needed < 1 {
		needed = 1
	}
	if needed > cap {
		needed = cap
	}
	return needed
}

// sampleIndices draws n distinct indices in [0, total) from rng.
func sampleIndices(rng *rand.Rand, n, total int) []int {
	picked := make([]int, 0, n)
	seen := make(map[int]struct{}, n)
	for len(picked) < n {
		i := rng.Intn(total)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		picked = append(picked, i)
	}
	return picked
}

// runTrial evaluates one minimal-sample trial and returns its best-scoring
// candidate, or nil when the sample was degenerate.
func runTrial(trial int, p1, p2 []r2.Point, cfg Config) *hypothesis {
	rng := rand.New(rand.NewSource(trialSeed(cfg.Seed, trial)))
	idx := sampleIndices(rng, cfg.SamplePoints, len(p1))

	s1 := make([]r2.Point, cfg.SamplePoints)
	s2 := make([]r2.Point, cfg.SamplePoints)
	for i, j := range idx {
		s1[i] = p1[j]
		s2[i] = p2[j]
	}

	var candidates []*mat.Dense
	if cfg.SamplePoints == 7 {
		fs, err := solveSevenPoint(s1, s2)
		if err != nil {
			return nil
		}
		candidates = fs
	} else {
		f, err := solveEightPoint(s1, s2)
		if err != nil {
			return nil
		}
		candidates = []*mat.Dense{f}
	}

	maxDist := cfg.MaxError * cfg.MaxError
	var best *hypothesis
	for root, f := range candidates {
		var inliers []int
		for i := range p1 {
			if symmetricEpipolarDistance(f, p1[i], p2[i]) <= maxDist {
				inliers = append(inliers, i)
			}
		}
		h := &hypothesis{f: f, inliers: inliers, trial: trial, root: root}
		if h.better(best) {
			best = h
		}
	}
	return best
}

// searchFundamental runs the adaptive RANSAC loop over minimal-sample
// hypotheses. Trials are evaluated in fixed batches across a worker pool;
// the adaptive trial bound is recomputed after every batch from the best
// inlier ratio so far. Returns nil when every trial was degenerate.
func searchFundamental(p1, p2 []r2.Point, cfg Config) *hypothesis {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	// The batch size is fixed rather than derived from the worker count:
	// the adaptive bound is recomputed at batch boundaries, so boundaries
	// must not move with scheduling for results to be reproducible.
	batch := 32
	if batch > cfg.MaxIterations {
		batch = cfg.MaxIterations
	}

	var best *hypothesis
	needed := cfg.MaxIterations

	for start := 0; start < needed; start += batch {
		end := start + batch
		if end > needed {
			end = needed
		}

		results := make([]*hypothesis, end-start)
		var wg sync.WaitGroup
		trials := make(chan int)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range trials {
					results[t-start] = runTrial(t, p1, p2, cfg)
				}
			}()
		}
		for t := start; t < end; t++ {
			trials <- t
		}
		close(trials)
		wg.Wait()

		// Reduce in trial order so the outcome is schedule-independent.
		improved := false
		for _, h := range results {
			if h != nil && h.better(best) {
				best = h
				improved = true
			}
		}

		if improved {
			w := float64(len(best.inliers)) / float64(len(p1))
			needed = ransacIterations(w, cfg.OutlierProbability, cfg.SamplePoints, cfg.MaxIterations)
		}
	}
	return best
}
