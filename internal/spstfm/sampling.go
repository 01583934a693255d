// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package spstfm

import (
	"sort"

	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

// trainingSet is one channel's gathered training and (optional) test
// samples, each column a concatenated [high; low] patch vector from the
// H(d3)-H(d1) / L(d3)-L(d1) difference images (spec.md §4.7 "Training
// samples").
type trainingSet struct {
	Train *mat.Dense // 2P² x N
	Test  *mat.Dense // 2P² x K, nil if K == 0
}

// gatherSamples builds the training (and optional test) sample matrices for
// one channel, following spec.md §4.7 "Training samples": candidates are
// ordered by strategy, patches with too many invalid pixels are dropped,
// accepted patches have invalid pixels mean-filled, low-resolution
// duplicates are removed, and the first N survivors are kept.
func gatherSamples(highDiff, lowDiff, mask pixel.Image, channel int, area pixel.Rectangle, opts Options, rng *fastrand.RNG) trainingSet {
	patchSize := opts.PatchSize
	positions := patchGrid(area, patchSize, opts.PatchOverlap)

	ordered := orderCandidates(positions, highDiff, lowDiff, channel, patchSize, opts.SamplingStrategy, rng)

	type accepted struct {
		high, low Patch
		bucket    int64
	}
	var kept []accepted
	seen := make(map[int64][]Patch)

	for _, pos := range ordered {
		if len(kept) >= opts.NumberTrainingSamples {
			break
		}
		hp, err := ExtractPatch(highDiff, pos.x, pos.y, patchSize, channel)
		if err != nil {
			continue
		}
		lp, err := ExtractPatch(lowDiff, pos.x, pos.y, patchSize, channel)
		if err != nil {
			continue
		}
		valid := extractMaskPatch(mask, pos.x, pos.y, patchSize)
		if fractionInvalid(valid) > opts.InvalidPixelTolerance {
			continue
		}
		fillInvalidWithMean(hp, valid)
		fillInvalidWithMean(lp, valid)

		bucket := lowResBucket(lp)
		duplicate := false
		for _, other := range seen[bucket] {
			duplicate = true
			for i := range lp {
				if lp[i] != other[i] {
					duplicate = false
					break
				}
			}
			if duplicate {
				break
			}
		}
		if duplicate {
			continue
		}
		seen[bucket] = append(seen[bucket], lp)
		kept = append(kept, accepted{hp, lp, bucket})
	}

	train := mat.NewDense(2*patchSize*patchSize, len(kept), nil)
	n := patchSize * patchSize
	for col, a := range kept {
		for i := 0; i < n; i++ {
			train.Set(i, col, a.high[i])
			train.Set(n+i, col, a.low[i])
		}
	}

	var test *mat.Dense
	if opts.NumberTestSamples > 0 && len(ordered) > 0 {
		test = mat.NewDense(2*n, opts.NumberTestSamples, nil)
		for col := 0; col < opts.NumberTestSamples; col++ {
			pos := ordered[int(rng.Uint32n(uint32(len(ordered))))]
			hp, err := ExtractPatch(highDiff, pos.x, pos.y, patchSize, channel)
			if err != nil {
				continue
			}
			lp, err := ExtractPatch(lowDiff, pos.x, pos.y, patchSize, channel)
			if err != nil {
				continue
			}
			for i := 0; i < n; i++ {
				test.Set(i, col, hp[i])
				test.Set(n+i, col, lp[i])
			}
		}
	}

	return trainingSet{Train: train, Test: test}
}

// orderCandidates returns positions ordered per strategy: shuffled via rng
// (Fisher-Yates) for SamplingRandom; or sorted by descending combined high+low standard
// deviation for SamplingVariance (spec.md §4.7 "Training samples").
func orderCandidates(positions []patchPos, highDiff, lowDiff pixel.Image, channel, patchSize int, strategy SamplingStrategy, rng *fastrand.RNG) []patchPos {
	out := make([]patchPos, len(positions))
	copy(out, positions)

	if strategy == SamplingRandom {
		for i := len(out) - 1; i > 0; i-- {
			j := int(rng.Uint32n(uint32(i + 1)))
			out[i], out[j] = out[j], out[i]
		}
		return out
	}

	type scored struct {
		pos   patchPos
		score float64
	}
	scoredPositions := make([]scored, len(out))
	for i, pos := range out {
		hp, errH := ExtractPatch(highDiff, pos.x, pos.y, patchSize, channel)
		lp, errL := ExtractPatch(lowDiff, pos.x, pos.y, patchSize, channel)
		score := 0.0
		if errH == nil && errL == nil {
			score = stdDevOf(hp, meanOf(hp)) + stdDevOf(lp, meanOf(lp))
		}
		scoredPositions[i] = scored{pos, score}
	}
	sort.SliceStable(scoredPositions, func(i, j int) bool { return scoredPositions[i].score > scoredPositions[j].score })
	for i, s := range scoredPositions {
		out[i] = s.pos
	}
	return out
}

// lowResBucket buckets a low-resolution patch by its integer-rounded sum.
// gatherSamples compares a new patch element by element only against the
// already kept patches of the same bucket when removing duplicates.
func lowResBucket(p Patch) int64 {
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	return int64(sum + 0.5)
}
