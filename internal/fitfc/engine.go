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

package fitfc

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/mlnoga/imagefusion/internal/winstats"
)

// Engine implements the Fit-FC data fusor (spec.md §4.6, §6 "Engine ABI").
// It intentionally has no Clone/PredictArea pair, so it cannot satisfy
// tile.ParallelizableEngine: wrapping it in a tile.Parallelizer is a
// compile-time type error (spec.md §5 "Parallel forbidden engines").
type Engine struct {
	store *pixel.MultiResImage
	opts  Options
	out   pixel.Image
}

// New returns an Engine with no source images or options set yet.
func New() *Engine { return &Engine{} }

func (e *Engine) SetSrcImages(store *pixel.MultiResImage) { e.store = store }

func (e *Engine) ProcessOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	e.opts = opts
	return nil
}

func (e *Engine) OutputImage() pixel.Image { return e.out }

// Predict runs the full three-stage Fit-FC prediction (spec.md §4.6) for
// date2, restricted to opts.PredictionArea (or the full image if unset).
func (e *Engine) Predict(date2 int32, mask pixel.Image) error {
	if e.store == nil {
		return pixel.Logicf("Predict called before SetSrcImages")
	}
	opts := e.opts
	pairDate := opts.PairDates[0]
	required := []fusion.RequiredImage{
		{Tag: opts.HighResTag, Date: pairDate},
		{Tag: opts.LowResTag, Date: pairDate},
		{Tag: opts.LowResTag, Date: date2},
	}
	imgs, err := fusion.Resolve(e.store, required)
	if err != nil {
		return err
	}
	h1 := imgs[fusion.RequiredImage{Tag: opts.HighResTag, Date: pairDate}]
	l1 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: pairDate}]
	l2 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: date2}]
	if err := fusion.CheckPair(h1, l1); err != nil {
		return err
	}
	if h1.Size() != l2.Size() || h1.Base() != l2.Base() || h1.Channels() != l2.Channels() {
		return pixel.Sizef(l2.Size(), "target-date low-resolution image does not match pair image shape")
	}

	bounds := pixel.Rectangle{X: 0, Y: 0, Width: h1.Width(), Height: h1.Height()}
	if bounds.Empty() {
		return pixel.Sizef(bounds, "source images are empty")
	}
	if opts.WindowSize > bounds.Width || opts.WindowSize > bounds.Height {
		return pixel.Sizef(bounds, "window size %d exceeds image side", opts.WindowSize)
	}
	if opts.ResolutionFactor > bounds.Width || opts.ResolutionFactor > bounds.Height {
		return pixel.Sizef(bounds, "resolution factor %d exceeds image side", opts.ResolutionFactor)
	}

	preparedMask, err := fusion.PrepareMask(mask, h1, true)
	if err != nil {
		return err
	}

	area := fusion.DefaultPredictionArea(opts.PredictionArea, h1.Size())
	out := fusion.PrepareOutput(e.out, area.Size(), h1.Type())

	numberNeighbors := opts.NumberNeighbors
	if maxNeighbors := opts.WindowSize * opts.WindowSize; numberNeighbors > maxNeighbors {
		numberNeighbors = maxNeighbors
	}

	// RM stage and the bicubic residual upscale both run over the full
	// image rather than just area's sample neighborhood, so the result at
	// any given pixel never depends on which prediction area was requested
	// (spec.md §8 "prediction area == crop of full").
	frm, residual := regress(h1, l1, l2, preparedMask, opts.WindowSize, opts.Threads)
	residual = cubicFilter(residual, opts.ResolutionFactor)

	distWeights := computeDistanceWeights(opts.WindowSize)
	half := opts.HalfWindow()
	channels := h1.Channels()

	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			ox, oy := x-area.X, y-area.Y
			if !preparedMask.Empty() && !preparedMask.BoolAt(x, y, 0) {
				continue
			}
			win := pixel.Rectangle{X: x - half, Y: y - half, Width: 2*half + 1, Height: 2*half + 1}.Intersect(bounds)
			neighbors := bestNeighbors(h1, preparedMask, win, x, y, channels, numberNeighbors)

			sumW := 0.0
			acc := make([]float64, channels)
			for _, nb := range neighbors {
				w := distWeights[(nb.v-y+half)*opts.WindowSize+(nb.u-x+half)]
				sumW += w
				for c := 0; c < channels; c++ {
					acc[c] += w * (frm.Float64At(nb.u, nb.v, c) + residual.Float64At(nb.u, nb.v, c))
				}
			}
			for c := 0; c < channels; c++ {
				if sumW == 0 {
					out.SetFloat64(ox, oy, c, frm.Float64At(x, y, c)+residual.Float64At(x, y, c))
					continue
				}
				out.SetFloat64(ox, oy, c, acc[c]/sumW)
			}
		}
	}

	e.out = out
	return nil
}

// regress fits the per-pixel coarse regression model L(d2) = a*L(d1) + b
// over an S x S window (spec.md §4.6 "RM"), per channel, in parallel. It
// returns F_RM = a*H(d1) + b (same base kind as h1) and the residual
// R = L(d2) - (a*L(d1) + b) (always Float64).
func regress(h1, l1, l2, mask pixel.Image, window, threads int) (frm, residual pixel.Image) {
	size := h1.Size()
	channels := h1.Channels()
	frm = pixel.New(h1.Type(), size)
	residual = pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, size)

	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > channels {
		threads = channels
	}
	if threads < 1 {
		threads = 1
	}

	jobs := make(chan int, channels)
	for c := 0; c < channels; c++ {
		jobs <- c
	}
	close(jobs)

	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				sums := winstats.Compute(l1, l2, mask, window, c)
				for y := 0; y < size.Height; y++ {
					for x := 0; x < size.Width; x++ {
						a, b, ok := fusion.FitLine(sums[y][x])
						if !ok {
							// degenerate window: pass H(d1) through unchanged,
							// residual collapses to the raw low-res difference
							// (spec.md §4.6 RM fallback).
							a, b = 1, 0
						}
						frm.SetFloat64(x, y, c, a*h1.Float64At(x, y, c)+b)
						residual.SetFloat64(x, y, c, l2.Float64At(x, y, c)-(a*l1.Float64At(x, y, c)+b))
					}
				}
			}
		}()
	}
	wg.Wait()
	return frm, residual
}

// computeDistanceWeights precomputes the window-sized table of inverse
// spatial-distance weights 1/(1 + Euclid(offset)/(S/2)) used by the SF
// stage, indexed [dy*window+dx] with dx,dy relative to the window's
// top-left corner (spec.md §4.6 "SF (spatial filtering)").
func computeDistanceWeights(window int) []float64 {
	weights := make([]float64, window*window)
	half := window / 2
	for y := 0; y < window; y++ {
		for x := 0; x < window; x++ {
			dx, dy := float64(x-half), float64(y-half)
			d := math.Sqrt(dx*dx+dy*dy)*2/float64(window) + 1.0
			weights[y*window+x] = 1 / d
		}
	}
	return weights
}

type neighbor struct {
	u, v int
	diff float64
}

// bestNeighbors returns the n candidates in win with the smallest
// multi-channel squared H-difference to the center pixel, ties broken by
// Euclidean distance to the center (spec.md §4.6 "SF"). The caller only
// invokes this for a mask-valid center, so the center's own zero diff is
// always among the candidates and sorts first.
func bestNeighbors(h1, mask pixel.Image, win pixel.Rectangle, x, y, channels, n int) []neighbor {
	candidates := make([]neighbor, 0, win.Width*win.Height)
	for v := win.Y; v < win.Bottom(); v++ {
		for u := win.X; u < win.Right(); u++ {
			if !mask.Empty() && !mask.BoolAt(u, v, 0) {
				continue
			}
			diff := 0.0
			for c := 0; c < channels; c++ {
				d := h1.Float64At(u, v, c) - h1.Float64At(x, y, c)
				diff += d * d
			}
			candidates = append(candidates, neighbor{u, v, diff})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.diff != b.diff {
			return a.diff < b.diff
		}
		da := float64((a.u-x)*(a.u-x) + (a.v-y)*(a.v-y))
		db := float64((b.u-x)*(b.u-x) + (b.v-y)*(b.v-y))
		return da < db
	})
	if n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}
