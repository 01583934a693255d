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
	"testing"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

func TestCubicFilterFactorOneIsIdentity(t *testing.T) {
	size := pixel.Size{Width: 5, Height: 4}
	r := patternImage(size, 2, 7)
	got := cubicFilter(r, 1)
	if !got.IsSharedWith(r) {
		t.Fatal("factor=1 must return r unchanged, sharing its storage")
	}
}

func TestCubicFilterConstantImageStaysConstant(t *testing.T) {
	size := pixel.Size{Width: 12, Height: 9}
	r := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 2}, size)
	r.Fill(42)

	got := cubicFilter(r, 3)
	if got.Size() != size {
		t.Fatalf("expected output size %v, got %v", size, got.Size())
	}
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			for c := 0; c < 2; c++ {
				if v := got.Float64At(x, y, c); math.Abs(v-42) > 1e-9 {
					t.Fatalf("pixel (%d,%d,%d): got %v want 42", x, y, c, v)
				}
			}
		}
	}
}

func TestAreaDownscaleAveragesBlocks(t *testing.T) {
	size := pixel.Size{Width: 4, Height: 2}
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	i := 0
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			img.SetFloat64(x, y, 0, vals[i])
			i++
		}
	}
	small := areaDownscale(img, 2)
	if small.Width() != 2 || small.Height() != 1 {
		t.Fatalf("expected 2x1 output, got %v", small.Size())
	}
	// top-left 2x2 block is {1,2,5,6}, mean 3.5; next block {3,4,7,8}, mean 5.5
	if got := small.Float64At(0, 0, 0); math.Abs(got-3.5) > 1e-9 {
		t.Fatalf("block 0: got %v want 3.5", got)
	}
	if got := small.Float64At(1, 0, 0); math.Abs(got-5.5) > 1e-9 {
		t.Fatalf("block 1: got %v want 5.5", got)
	}
}
