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

package winstats

import (
	"math"
	"testing"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

func naiveSums(x, y pixel.Image, mask pixel.Image, window, channel int) [][]Sums {
	w, h := x.Width(), x.Height()
	half := window / 2
	out := make([][]Sums, h)
	for py := 0; py < h; py++ {
		out[py] = make([]Sums, w)
		for px := 0; px < w; px++ {
			var s Sums
			for wy := py - half; wy <= py+half; wy++ {
				if wy < 0 || wy >= h {
					continue
				}
				for wx := px - half; wx <= px+half; wx++ {
					if wx < 0 || wx >= w {
						continue
					}
					if !mask.Empty() && !mask.BoolAt(wx, wy, 0) {
						continue
					}
					vx, vy := x.Float64At(wx, wy, channel), y.Float64At(wx, wy, channel)
					s.SumX += vx
					s.SumY += vy
					s.SumXX += vx * vx
					s.SumXY += vx * vy
					s.N++
				}
			}
			out[py][px] = s
		}
	}
	return out
}

func TestComputeMatchesNaive(t *testing.T) {
	w, h := 11, 9
	x := pixel.New(pixel.FullType{Base: pixel.Float32, Channels: 1}, pixel.Size{Width: w, Height: h})
	y := pixel.New(pixel.FullType{Base: pixel.Float32, Channels: 1}, pixel.Size{Width: w, Height: h})
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			x.SetFloat64(px, py, 0, float64(px*3+py))
			y.SetFloat64(px, py, 0, float64(px-2*py+5))
		}
	}
	mask := pixel.NewMask(pixel.Size{Width: w, Height: h}, 1)
	mask.SetBoolAt(4, 4, 0, false)
	mask.SetBoolAt(0, 0, 0, false)

	for _, window := range []int{3, 5, 7} {
		got := Compute(x, y, mask, window, 0)
		want := naiveSums(x, y, mask, window, 0)
		for py := 0; py < h; py++ {
			for px := 0; px < w; px++ {
				g, wnt := got[py][px], want[py][px]
				if g.N != wnt.N || !approxEq(g.SumX, wnt.SumX) || !approxEq(g.SumY, wnt.SumY) ||
					!approxEq(g.SumXX, wnt.SumXX) || !approxEq(g.SumXY, wnt.SumXY) {
					t.Fatalf("window %d pixel (%d,%d): got %+v want %+v", window, px, py, g, wnt)
				}
			}
		}
	}
}

func approxEq(a, b float64) bool { return math.Abs(a-b) < 1e-6 }
