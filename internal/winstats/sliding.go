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

// Package winstats implements the moving-window sliding-sums accelerator
// of spec.md §4.2: five running sums (Σx, Σy, Σx², Σxy, n) over an S×S
// window around every pixel, at O(W·H) total cost independent of S.
package winstats

import "github.com/mlnoga/imagefusion/internal/pixel"

// Sums holds the five window statistics at one output pixel.
type Sums struct {
	SumX, SumY, SumXX, SumXY float64
	N                        int
}

// MeanX/MeanY are convenience readers of the window means.
func (s Sums) MeanX() float64 { return s.SumX / float64(s.N) }
func (s Sums) MeanY() float64 { return s.SumY / float64(s.N) }

// Compute returns the W×H grid of window sums for channel c of x and y
// (same size, same channel count), honoring an optional single-channel
// mask (nil/empty = all valid). window must be odd and >= 1.
func Compute(x, y pixel.Image, mask pixel.Image, window, channel int) [][]Sums {
	w, h := x.Width(), x.Height()
	get := func(px, py int) (vx, vy float64, ok bool) {
		if !mask.Empty() && !mask.BoolAt(px, py, 0) {
			return 0, 0, false
		}
		return x.Float64At(px, py, channel), y.Float64At(px, py, channel), true
	}

	sumX, n := slidingAccumulate(w, h, window, func(px, py int) (float64, bool) {
		vx, _, ok := get(px, py)
		return vx, ok
	})
	sumY, _ := slidingAccumulate(w, h, window, func(px, py int) (float64, bool) {
		_, vy, ok := get(px, py)
		return vy, ok
	})
	sumXX, _ := slidingAccumulate(w, h, window, func(px, py int) (float64, bool) {
		vx, _, ok := get(px, py)
		return vx * vx, ok
	})
	sumXY, _ := slidingAccumulate(w, h, window, func(px, py int) (float64, bool) {
		vx, vy, ok := get(px, py)
		return vx * vy, ok
	})

	out := make([][]Sums, h)
	for py := 0; py < h; py++ {
		out[py] = make([]Sums, w)
		for px := 0; px < w; px++ {
			out[py][px] = Sums{
				SumX: sumX[py][px], SumY: sumY[py][px],
				SumXX: sumXX[py][px], SumXY: sumXY[py][px],
				N: n[py][px],
			}
		}
	}
	return out
}

// slidingAccumulate computes, for every pixel, the sum of value(px,py) (for
// valid pixels only) over the window centered at that pixel, using the
// additive/subtractive sliding update of spec.md §4.2: a column running sum
// is maintained across rows, then slid across columns within each row. Cost
// is O(W·H), independent of window size.
func slidingAccumulate(w, h, window int, value func(x, y int) (float64, bool)) (sum [][]float64, count [][]int) {
	half := window / 2
	sum = make([][]float64, h)
	count = make([][]int, h)
	for i := range sum {
		sum[i] = make([]float64, w)
		count[i] = make([]int, w)
	}

	colSum := make([]float64, w)
	colCnt := make([]int, w)

	// initialize column sums for the first row's vertical window
	for px := 0; px < w; px++ {
		for ry := 0; ry <= half && ry < h; ry++ {
			if v, ok := value(px, ry); ok {
				colSum[px] += v
				colCnt[px]++
			}
		}
	}

	for py := 0; py < h; py++ {
		if py > 0 {
			addRow := py + half
			removeRow := py - half - 1
			if addRow < h {
				for px := 0; px < w; px++ {
					if v, ok := value(px, addRow); ok {
						colSum[px] += v
						colCnt[px]++
					}
				}
			}
			if removeRow >= 0 {
				for px := 0; px < w; px++ {
					if v, ok := value(px, removeRow); ok {
						colSum[px] -= v
						colCnt[px]--
					}
				}
			}
		}

		// slide the row-wise window across columns
		rowSum, rowCnt := 0.0, 0
		for px := 0; px <= half && px < w; px++ {
			rowSum += colSum[px]
			rowCnt += colCnt[px]
		}
		for px := 0; px < w; px++ {
			if px > 0 {
				addCol := px + half
				removeCol := px - half - 1
				if addCol < w {
					rowSum += colSum[addCol]
					rowCnt += colCnt[addCol]
				}
				if removeCol >= 0 {
					rowSum -= colSum[removeCol]
					rowCnt -= colCnt[removeCol]
				}
			}
			sum[py][px] = rowSum
			count[py][px] = rowCnt
		}
	}
	return sum, count
}
