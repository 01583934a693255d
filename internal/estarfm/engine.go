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

package estarfm

import (
	"math"

	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/mlnoga/imagefusion/internal/tile"
)

// Engine implements the ESTARFM data fusor (spec.md §4.5, §6 "Engine ABI").
type Engine struct {
	store *pixel.MultiResImage
	opts  Options
	out   pixel.Image
}

var _ tile.ParallelizableEngine = (*Engine)(nil)

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

func (e *Engine) Clone() tile.ParallelizableEngine {
	return &Engine{store: e.store, opts: e.opts}
}

// Predict runs the full prediction over the configured area, single
// threaded. Wrap the engine in a tile.Parallelizer for multi-threaded use.
func (e *Engine) Predict(date int32, mask pixel.Image) error {
	if e.store == nil {
		return pixel.Logicf("Predict called before SetSrcImages")
	}
	if !e.store.Has(e.opts.HighResTag, e.opts.PairDates[0]) {
		return pixel.NotFoundf(e.opts.HighResTag, e.opts.PairDates[0])
	}
	high1 := e.store.Get(e.opts.HighResTag, e.opts.PairDates[0])
	area := fusion.DefaultPredictionArea(e.opts.PredictionArea, high1.Size())
	out := fusion.PrepareOutput(e.out, area.Size(), high1.Type())
	preparedMask, err := fusion.PrepareMask(mask, high1, true)
	if err != nil {
		return err
	}
	if err := e.PredictArea(date, area, preparedMask, out); err != nil {
		return err
	}
	e.out = out
	return nil
}

// PredictArea runs ESTARFM restricted to area, writing into out (sized
// area.Size()). Called directly by Predict, or once per stripe by
// tile.Parallelizer.
func (e *Engine) PredictArea(date int32, area pixel.Rectangle, mask pixel.Image, out pixel.Image) error {
	opts := e.opts
	d1, d3 := opts.PairDates[0], opts.PairDates[1]
	required := []fusion.RequiredImage{
		{Tag: opts.HighResTag, Date: d1}, {Tag: opts.LowResTag, Date: d1},
		{Tag: opts.HighResTag, Date: d3}, {Tag: opts.LowResTag, Date: d3},
		{Tag: opts.LowResTag, Date: date},
	}
	imgs, err := fusion.Resolve(e.store, required)
	if err != nil {
		return err
	}
	h1 := imgs[fusion.RequiredImage{Tag: opts.HighResTag, Date: d1}]
	l1 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: d1}]
	h3 := imgs[fusion.RequiredImage{Tag: opts.HighResTag, Date: d3}]
	l3 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: d3}]
	l2 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: date}]
	if err := fusion.CheckPair(h1, l1); err != nil {
		return err
	}
	if err := fusion.CheckPair(h3, l3); err != nil {
		return err
	}
	if h1.Size() != l2.Size() || h1.Base() != l2.Base() || h1.Channels() != l2.Channels() {
		return pixel.Sizef(l2.Size(), "target-date low-resolution image does not match pair image shape")
	}

	bounds := pixel.Rectangle{X: 0, Y: 0, Width: l2.Width(), Height: l2.Height()}
	if bounds.Empty() {
		return pixel.Sizef(bounds, "source images are empty")
	}
	channels := l2.Channels()

	// Class-search thresholds and the uncertainty filter's local-tolerance
	// variant are computed over the full image bounds rather than the
	// (tile-dependent) prediction area, so tile independence and thread
	// equivalence hold exactly regardless of how the prediction area is
	// split (spec.md §8).
	classThresh1 := make([]float64, channels)
	classThresh3 := make([]float64, channels)
	uncertainty := make([]float64, channels)
	for c := 0; c < channels; c++ {
		classThresh1[c] = fusion.ClassThreshold(fusion.ChannelStdDev(h1, bounds, pixel.Image{}, c), opts.NumberClasses)
		classThresh3[c] = fusion.ClassThreshold(fusion.ChannelStdDev(h3, bounds, pixel.Image{}, c), opts.NumberClasses)
		if opts.LocalTol {
			uncertainty[c] = opts.UncertaintyFactor * fusion.ChannelStdDev(h1, bounds, pixel.Image{}, c)
		} else {
			uncertainty[c] = opts.UncertaintyFactor * (opts.DataRangeMax - opts.DataRangeMin)
		}
	}

	t1 := fusion.SumAbsDiff(l1, l2, bounds, pixel.Image{})
	t3 := fusion.SumAbsDiff(l3, l2, bounds, pixel.Image{})

	half := opts.HalfWindow()
	pred1 := make([]float64, channels)
	pred3 := make([]float64, channels)

	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			ox, oy := x-area.X, y-area.Y
			if !mask.Empty() && !mask.BoolAt(x, y, 0) {
				continue
			}
			win := pixel.Rectangle{X: x - half, Y: y - half, Width: 2*half + 1, Height: 2*half + 1}.Intersect(bounds)
			candidates := classSearch(h1, h3, win, x, y, channels, classThresh1, classThresh3)
			predictPixel(h1, l1, h3, l3, l2, mask, candidates, x, y, channels, uncertainty, opts.QualityWeightedRegression, float64(win.Width)/2, pred1, pred3)

			for c := 0; c < channels; c++ {
				denom := t1 + t3
				var v float64
				if denom == 0 {
					v = (pred1[c] + pred3[c]) / 2
				} else {
					v = (t3*pred1[c] + t1*pred3[c]) / denom
				}
				if v < opts.DataRangeMin {
					v = opts.DataRangeMin
				} else if v > opts.DataRangeMax {
					v = opts.DataRangeMax
				}
				out.SetFloat64(ox, oy, c, v)
			}
		}
	}
	return nil
}

type point struct{ u, v int }

// classSearch returns every neighbor (including the center) whose H(d1) and
// H(d3) values are within the class threshold of the center's, for every
// channel (spec.md §4.5 step 1, "intersected across both pairs").
func classSearch(h1, h3 pixel.Image, win pixel.Rectangle, x, y, channels int, thresh1, thresh3 []float64) []point {
	candidates := make([]point, 0, win.Width*win.Height)
	for v := win.Y; v < win.Bottom(); v++ {
		for u := win.X; u < win.Right(); u++ {
			if u == x && v == y {
				candidates = append(candidates, point{u, v})
				continue
			}
			ok := true
			for c := 0; c < channels && ok; c++ {
				if math.Abs(h1.Float64At(u, v, c)-h1.Float64At(x, y, c)) > thresh1[c] {
					ok = false
				}
				if math.Abs(h3.Float64At(u, v, c)-h3.Float64At(x, y, c)) > thresh3[c] {
					ok = false
				}
			}
			if ok {
				candidates = append(candidates, point{u, v})
			}
		}
	}
	return candidates
}

// predictPixel fills pred1[c]/pred3[c] with the per-date predictions at
// (x,y), per spec.md §4.5 steps 2-4.
func predictPixel(h1, l1, h3, l3, l2 pixel.Image, mask pixel.Image, candidates []point, x, y, channels int, uncertainty []float64, smoothing bool, halfWin float64, pred1, pred3 []float64) {
	for c := 0; c < channels; c++ {
		var xs, ys []float64
		for _, p := range candidates {
			if !mask.Empty() && !mask.BoolAt(p.u, p.v, 0) {
				continue
			}
			xs = append(xs, l1.Float64At(p.u, p.v, c), l3.Float64At(p.u, p.v, c))
			ys = append(ys, h1.Float64At(p.u, p.v, c), h3.Float64At(p.u, p.v, c))
		}
		a := regressSlope(xs, ys, smoothing)

		sumW, sumW1, sumW3 := 0.0, 0.0, 0.0
		for _, p := range candidates {
			if !mask.Empty() && !mask.BoolAt(p.u, p.v, 0) {
				continue
			}
			spectral1 := math.Abs(h1.Float64At(p.u, p.v, c) - l1.Float64At(p.u, p.v, c))
			spectral3 := math.Abs(h3.Float64At(p.u, p.v, c) - l3.Float64At(p.u, p.v, c))
			combined := spectral1 + spectral3
			if combined >= uncertainty[c] {
				continue
			}
			dx, dy := float64(p.u-x), float64(p.v-y)
			dGeom := math.Sqrt(dx*dx + dy*dy)
			w := 1.0 / ((combined + 1) * (1 + dGeom/halfWin))

			v1 := h1.Float64At(p.u, p.v, c) + a*(l2.Float64At(p.u, p.v, c)-l1.Float64At(p.u, p.v, c))
			v3 := h3.Float64At(p.u, p.v, c) + a*(l2.Float64At(p.u, p.v, c)-l3.Float64At(p.u, p.v, c))
			sumW += w
			sumW1 += w * v1
			sumW3 += w * v3
		}
		if sumW == 0 {
			pred1[c] = h1.Float64At(x, y, c)
			pred3[c] = h3.Float64At(x, y, c)
			continue
		}
		pred1[c] = sumW1 / sumW
		pred3[c] = sumW3 / sumW
	}
}
