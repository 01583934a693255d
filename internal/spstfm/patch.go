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
	"math"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

// Patch is a single channel's P x P pixel block flattened row-major into a
// P² vector (spec.md §4.7 "Patch model").
type Patch []float64

// patchPos is the top-left corner of one tile in the patch grid.
type patchPos struct{ x, y int }

// patchGrid returns every patch top-left corner tiling area with the given
// patch size and overlap, so that consecutive patches advance by
// patchSize-overlap and the grid fully covers area (the last row/column may
// extend past area's far edge; extraction mirrors out-of-bounds pixels).
func patchGrid(area pixel.Rectangle, patchSize, overlap int) []patchPos {
	stride := patchSize - overlap
	if stride <= 0 {
		stride = 1
	}
	var positions []patchPos
	for y := area.Y; y < area.Bottom(); y += stride {
		for x := area.X; x < area.Right(); x += stride {
			positions = append(positions, patchPos{x, y})
			if x+patchSize >= area.Right() {
				break
			}
		}
		if y+patchSize >= area.Bottom() {
			break
		}
	}
	return positions
}

// mirrorIndex reflects an out-of-bounds coordinate back into [0, n) by
// mirroring once across the nearest edge (spec.md §8 "Patch boundary
// padding"). ok is false if i is more than one image extent out of bounds,
// at which point the caller must raise a size error instead.
func mirrorIndex(i, n int) (idx int, ok bool) {
	if i < 0 {
		m := -i - 1
		if m >= n {
			return 0, false
		}
		return m, true
	}
	if i >= n {
		m := 2*n - i - 1
		if m < 0 {
			return 0, false
		}
		return m, true
	}
	return i, true
}

// ExtractPatch reads a patchSize x patchSize block of one channel starting
// at (x0, y0), mirroring any out-of-bounds rows/columns across the image
// edge. It fails with a size error if the patch extends more than one image
// extent beyond the bounds (spec.md §8 "Patch boundary padding").
func ExtractPatch(img pixel.Image, x0, y0, patchSize, channel int) (Patch, error) {
	w, h := img.Width(), img.Height()
	p := make(Patch, patchSize*patchSize)
	for dy := 0; dy < patchSize; dy++ {
		y, ok := mirrorIndex(y0+dy, h)
		if !ok {
			return nil, pixel.Sizef(pixel.Size{Width: patchSize, Height: patchSize}, "patch at (%d,%d) extends more than one image extent out of bounds", x0, y0)
		}
		for dx := 0; dx < patchSize; dx++ {
			x, ok := mirrorIndex(x0+dx, w)
			if !ok {
				return nil, pixel.Sizef(pixel.Size{Width: patchSize, Height: patchSize}, "patch at (%d,%d) extends more than one image extent out of bounds", x0, y0)
			}
			p[dy*patchSize+dx] = img.Float64At(x, y, channel)
		}
	}
	return p, nil
}

// extractMaskPatch is like ExtractPatch but for a single-channel validity
// mask, read through the same mirror padding; positions that mirrorIndex
// cannot map back into the image stay marked invalid.
func extractMaskPatch(mask pixel.Image, x0, y0, patchSize int) []bool {
	valid := make([]bool, patchSize*patchSize)
	if mask.Empty() {
		for i := range valid {
			valid[i] = true
		}
		return valid
	}
	w, h := mask.Width(), mask.Height()
	for dy := 0; dy < patchSize; dy++ {
		y, ok := mirrorIndex(y0+dy, h)
		if !ok {
			continue
		}
		for dx := 0; dx < patchSize; dx++ {
			x, ok := mirrorIndex(x0+dx, w)
			if !ok {
				continue
			}
			valid[dy*patchSize+dx] = mask.BoolAt(x, y, 0)
		}
	}
	return valid
}

// fractionInvalid returns the fraction of false entries in valid.
func fractionInvalid(valid []bool) float64 {
	invalid := 0
	for _, v := range valid {
		if !v {
			invalid++
		}
	}
	return float64(invalid) / float64(len(valid))
}

// fillInvalidWithMean replaces entries of p marked invalid by valid with the
// mean of the entries of p marked valid. The mean is taken over this patch
// only, not over all valid pixels of the channel's difference image.
func fillInvalidWithMean(p Patch, valid []bool) {
	sum, n := 0.0, 0
	for i, ok := range valid {
		if ok {
			sum += p[i]
			n++
		}
	}
	if n == 0 || n == len(p) {
		return
	}
	mean := sum / float64(n)
	for i, ok := range valid {
		if !ok {
			p[i] = mean
		}
	}
}

// meanOf returns the arithmetic mean of xs (0 for an empty slice).
func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDevOf returns the population standard deviation of xs around mean.
func stdDevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// reconstructor accumulates overlapping patches into a per-channel
// sum/count buffer and emits the averaged result, saturated to the output
// kind's range (spec.md §4.7 "Output assembly", §8 "Patch averaging
// saturation").
type reconstructor struct {
	size  pixel.Size
	sum   []float64
	count []int
}

func newReconstructor(size pixel.Size) *reconstructor {
	n := size.Width * size.Height
	return &reconstructor{size: size, sum: make([]float64, n), count: make([]int, n)}
}

// add deposits patch (top-left x0,y0) into the accumulator, clipping to the
// buffer's bounds (a patch may extend past the prediction area's far edge).
func (r *reconstructor) add(x0, y0, patchSize int, patch Patch) {
	for dy := 0; dy < patchSize; dy++ {
		y := y0 + dy
		if y < 0 || y >= r.size.Height {
			continue
		}
		for dx := 0; dx < patchSize; dx++ {
			x := x0 + dx
			if x < 0 || x >= r.size.Width {
				continue
			}
			idx := y*r.size.Width + x
			r.sum[idx] += patch[dy*patchSize+dx]
			r.count[idx]++
		}
	}
}

// writeTo averages the accumulated contributions into out's channel,
// leaving pixels with zero contributions, or marked invalid by mask,
// untouched (spec.md §4.8 step 6, "masked pixels keep their prior value").
// x0, y0 is out's top-left corner within mask's coordinate space.
func (r *reconstructor) writeTo(out pixel.Image, mask pixel.Image, x0, y0, channel int) {
	for y := 0; y < r.size.Height; y++ {
		for x := 0; x < r.size.Width; x++ {
			idx := y*r.size.Width + x
			if r.count[idx] == 0 {
				continue
			}
			if !mask.Empty() && !mask.BoolAt(x0+x, y0+y, 0) {
				continue
			}
			out.SetFloat64(x, y, channel, r.sum[idx]/float64(r.count[idx]))
		}
	}
}
