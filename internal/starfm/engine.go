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

package starfm

import (
	"math"

	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/mlnoga/imagefusion/internal/tile"
)

// Engine implements the STARFM data fusor (spec.md §4.4, §6 "Engine ABI").
type Engine struct {
	store *pixel.MultiResImage
	opts  Options
	out   pixel.Image
}

var _ tile.ParallelizableEngine = (*Engine)(nil)

// New returns an Engine with no source images or options set yet.
func New() *Engine { return &Engine{} }

// SetSrcImages moves in the (read-only during prediction) image store.
func (e *Engine) SetSrcImages(store *pixel.MultiResImage) { e.store = store }

// ProcessOptions validates and copies opts into the engine (spec.md §3
// "Lifetime": subsequent mutation of the caller's copy has no effect).
func (e *Engine) ProcessOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	e.opts = opts
	return nil
}

// OutputImage borrows the engine-owned output buffer.
func (e *Engine) OutputImage() pixel.Image { return e.out }

// Clone returns a new Engine sharing the same store and a value-copy of
// options, for use as a tile.Parallelizer stripe worker.
func (e *Engine) Clone() tile.ParallelizableEngine {
	return &Engine{store: e.store, opts: e.opts}
}

// Predict runs the full prediction (spec.md §4.8 preamble + §4.4 kernel)
// over the configured prediction area, single-threaded. Wrap the engine in
// a tile.Parallelizer for multi-threaded execution.
func (e *Engine) Predict(date int32, mask pixel.Image) error {
	if e.store == nil {
		return pixel.Logicf("Predict called before SetSrcImages")
	}
	high0, ok := e.firstHigh()
	if !ok {
		return pixel.NotFoundf(e.opts.HighResTag, e.opts.PairDates[0])
	}
	area := fusion.DefaultPredictionArea(e.opts.PredictionArea, high0.Size())
	out := fusion.PrepareOutput(e.out, area.Size(), high0.Type())
	preparedMask, err := fusion.PrepareMask(mask, high0, true)
	if err != nil {
		return err
	}
	if err := e.PredictArea(date, area, preparedMask, out); err != nil {
		return err
	}
	e.out = out
	return nil
}

func (e *Engine) firstHigh() (pixel.Image, bool) {
	if len(e.opts.PairDates) == 0 || !e.store.Has(e.opts.HighResTag, e.opts.PairDates[0]) {
		return pixel.Image{}, false
	}
	return e.store.Get(e.opts.HighResTag, e.opts.PairDates[0]), true
}

// PredictArea runs STARFM restricted to area, writing into out (sized
// area.Size()). This is the method the tile.Parallelizer calls per stripe.
func (e *Engine) PredictArea(date int32, area pixel.Rectangle, mask pixel.Image, out pixel.Image) error {
	opts := e.opts
	required := []fusion.RequiredImage{{Tag: opts.LowResTag, Date: date}}
	for _, d := range opts.PairDates {
		required = append(required,
			fusion.RequiredImage{Tag: opts.HighResTag, Date: d},
			fusion.RequiredImage{Tag: opts.LowResTag, Date: d},
		)
	}
	imgs, err := fusion.Resolve(e.store, required)
	if err != nil {
		return err
	}
	l2 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: date}]

	type pair struct {
		h, l pixel.Image
		date int32
	}
	pairs := make([]pair, len(opts.PairDates))
	for i, d := range opts.PairDates {
		h := imgs[fusion.RequiredImage{Tag: opts.HighResTag, Date: d}]
		l := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: d}]
		if err := fusion.CheckPair(h, l); err != nil {
			return err
		}
		if h.Size() != l2.Size() || h.Base() != l2.Base() || h.Channels() != l2.Channels() {
			return pixel.Sizef(l2.Size(), "target-date low-resolution image does not match pair image shape")
		}
		pairs[i] = pair{h, l, d}
	}
	bounds := pixel.Rectangle{X: 0, Y: 0, Width: l2.Width(), Height: l2.Height()}
	if bounds.Empty() {
		return pixel.Sizef(bounds, "source images are empty")
	}
	channels := l2.Channels()

	// Per-pair, per-channel class threshold from the pair's own H stddev.
	// Computed over the full image bounds rather than the (tile-dependent)
	// prediction area, so tile independence and thread equivalence hold
	// exactly regardless of how the prediction area is split (spec.md §8).
	classThresh := make([][]float64, len(pairs))
	for i, p := range pairs {
		classThresh[i] = make([]float64, channels)
		for c := 0; c < channels; c++ {
			sigma := fusion.ChannelStdDev(p.h, bounds, pixel.Image{}, c)
			classThresh[i][c] = fusion.ClassThreshold(sigma, opts.NumberClasses)
		}
	}

	half := opts.HalfWindow()
	predPerPair := make([][]float64, len(pairs)) // reused per pixel, sized channels
	for i := range predPerPair {
		predPerPair[i] = make([]float64, channels)
	}
	// T_k likewise over the full image bounds, not the prediction area.
	temporalTotals := make([]float64, len(pairs))
	for i, p := range pairs {
		temporalTotals[i] = fusion.SumAbsDiff(p.l, l2, bounds, pixel.Image{})
	}

	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			ox, oy := x-area.X, y-area.Y
			if !mask.Empty() && !mask.BoolAt(x, y, 0) {
				continue // mask monotonicity: leave the pre-initialized output value
			}
			win := pixel.Rectangle{X: x - half, Y: y - half, Width: 2*half + 1, Height: 2*half + 1}.Intersect(bounds)

			for i, p := range pairs {
				predictPairPixel(p.h, p.l, l2, mask, win, x, y, channels, classThresh[i], opts, predPerPair[i])
			}

			for c := 0; c < channels; c++ {
				if len(pairs) == 1 {
					out.SetFloat64(ox, oy, c, predPerPair[0][c])
					continue
				}
				t1, t3 := temporalTotals[0], temporalTotals[1]
				denom := t1 + t3
				var v float64
				if denom == 0 {
					v = (predPerPair[0][c] + predPerPair[1][c]) / 2
				} else {
					v = (t3*predPerPair[0][c] + t1*predPerPair[1][c]) / denom
				}
				out.SetFloat64(ox, oy, c, v)
			}
		}
	}
	return nil
}

// predictPairPixel fills pred[c] with the single-pair STARFM prediction at
// (x,y) for every channel, per spec.md §4.4 steps 1-4.
func predictPairPixel(h, l, l2 pixel.Image, mask pixel.Image, win pixel.Rectangle, x, y, channels int, classThresh []float64, opts Options, pred []float64) {
	type candidate struct {
		u, v int
	}
	candidates := make([]candidate, 0, win.Width*win.Height)
	for v := win.Y; v < win.Bottom(); v++ {
		for u := win.X; u < win.Right(); u++ {
			if !mask.Empty() && !mask.BoolAt(u, v, 0) {
				continue
			}
			ok := true
			for c := 0; c < channels; c++ {
				if math.Abs(h.Float64At(u, v, c)-h.Float64At(x, y, c)) > classThresh[c] {
					ok = false
					break
				}
			}
			if ok {
				candidates = append(candidates, candidate{u, v})
			}
		}
	}
	// the central pixel is always a valid candidate for itself
	if len(candidates) == 0 {
		candidates = append(candidates, candidate{x, y})
	}

	halfWin := float64(win.Width) / 2
	for c := 0; c < channels; c++ {
		spectralDiffCenter := math.Abs(h.Float64At(x, y, c) - l.Float64At(x, y, c))
		temporalDiffCenter := math.Abs(l.Float64At(x, y, c) - l2.Float64At(x, y, c))
		if opts.CopyOnZeroDiff && temporalDiffCenter == 0 {
			pred[c] = h.Float64At(x, y, c)
			continue
		}
		if opts.CopyOnZeroDiff && spectralDiffCenter == 0 {
			pred[c] = l2.Float64At(x, y, c)
			continue
		}

		sumW, sumWV := 0.0, 0.0
		for _, cand := range candidates {
			spectralDiff := math.Abs(h.Float64At(cand.u, cand.v, c) - l.Float64At(cand.u, cand.v, c))
			temporalDiff := math.Abs(l.Float64At(cand.u, cand.v, c) - l2.Float64At(cand.u, cand.v, c))
			if spectralDiff >= opts.SigmaSpectral || temporalDiff >= opts.SigmaTemporal {
				continue
			}
			dx, dy := float64(cand.u-x), float64(cand.v-y)
			dGeom := math.Sqrt(dx*dx + dy*dy)
			w := 1.0 / ((spectralDiff + 1) * (temporalDiff + 1) * (1 + dGeom/halfWin))
			v := h.Float64At(cand.u, cand.v, c) + l2.Float64At(cand.u, cand.v, c) - l.Float64At(cand.u, cand.v, c)
			sumW += w
			sumWV += w * v
		}
		if sumW == 0 {
			pred[c] = h.Float64At(x, y, c) // zero weight sum: fall back to the central pixel, silently (spec.md §7)
			continue
		}
		pred[c] = sumWV / sumW
	}
}
