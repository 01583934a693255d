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
	"testing"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

func TestMirrorIndexInBounds(t *testing.T) {
	if idx, ok := mirrorIndex(3, 10); !ok || idx != 3 {
		t.Fatalf("in-bounds index should pass through unchanged, got (%d,%v)", idx, ok)
	}
}

func TestMirrorIndexReflectsOneExtentOut(t *testing.T) {
	// One step left of the image reflects to the first pixel; one step past
	// the right edge reflects to the last pixel.
	if idx, ok := mirrorIndex(-1, 10); !ok || idx != 0 {
		t.Fatalf("mirrorIndex(-1,10) = (%d,%v), want (0,true)", idx, ok)
	}
	if idx, ok := mirrorIndex(10, 10); !ok || idx != 9 {
		t.Fatalf("mirrorIndex(10,10) = (%d,%v), want (9,true)", idx, ok)
	}
	if idx, ok := mirrorIndex(-5, 10); !ok || idx != 4 {
		t.Fatalf("mirrorIndex(-5,10) = (%d,%v), want (4,true)", idx, ok)
	}
}

func TestMirrorIndexFailsBeyondOneExtent(t *testing.T) {
	if _, ok := mirrorIndex(-11, 10); ok {
		t.Fatal("expected mirrorIndex to fail more than one extent out of bounds")
	}
	if _, ok := mirrorIndex(20, 10); ok {
		t.Fatal("expected mirrorIndex to fail more than one extent out of bounds")
	}
}

func TestExtractPatchMirrorsImageEdge(t *testing.T) {
	size := pixel.Size{Width: 4, Height: 4}
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			img.SetFloat64(x, y, 0, float64(y*size.Width+x))
		}
	}

	p, err := ExtractPatch(img, -1, -1, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Row/col -1 mirrors to row/col 0, so the 3x3 patch at (-1,-1) equals
	// the top-left 3x3 block mirrored across both edges once.
	want := []float64{0, 0, 1, 0, 0, 1, 4, 4, 5}
	for i, w := range want {
		if p[i] != w {
			t.Fatalf("patch[%d] = %v, want %v", i, p[i], w)
		}
	}
}

func TestExtractPatchFailsTooFarOutOfBounds(t *testing.T) {
	size := pixel.Size{Width: 4, Height: 4}
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	if _, err := ExtractPatch(img, -10, 0, 3, 0); err == nil {
		t.Fatal("expected a size error for a patch extending more than one extent out of bounds")
	}
}

func TestFillInvalidWithMean(t *testing.T) {
	p := Patch{1, 2, 0, 0, 5}
	valid := []bool{true, true, false, false, true}
	fillInvalidWithMean(p, valid)
	want := (1.0 + 2.0 + 5.0) / 3.0
	for _, i := range []int{2, 3} {
		if math.Abs(p[i]-want) > 1e-12 {
			t.Fatalf("p[%d] = %v, want %v", i, p[i], want)
		}
	}
	if p[0] != 1 || p[1] != 2 || p[4] != 5 {
		t.Fatal("valid entries must be left untouched")
	}
}

func TestFractionInvalid(t *testing.T) {
	valid := []bool{true, false, true, false}
	if got := fractionInvalid(valid); got != 0.5 {
		t.Fatalf("fractionInvalid = %v, want 0.5", got)
	}
}

func TestPatchGridCoversAreaWithStride(t *testing.T) {
	area := pixel.Rectangle{X: 0, Y: 0, Width: 10, Height: 10}
	positions := patchGrid(area, 4, 1)
	if len(positions) == 0 {
		t.Fatal("expected at least one patch position")
	}
	for _, p := range positions {
		if p.x < area.X || p.y < area.Y {
			t.Fatalf("position %v outside area origin", p)
		}
	}
	// the last patch in each row/column must reach the far edge.
	maxX, maxY := 0, 0
	for _, p := range positions {
		if p.x > maxX {
			maxX = p.x
		}
		if p.y > maxY {
			maxY = p.y
		}
	}
	if maxX+4 < area.Right() {
		t.Fatalf("last column patch at x=%d does not reach the right edge", maxX)
	}
	if maxY+4 < area.Bottom() {
		t.Fatalf("last row patch at y=%d does not reach the bottom edge", maxY)
	}
}

func TestReconstructorAveragesOverlappingPatches(t *testing.T) {
	size := pixel.Size{Width: 4, Height: 1}
	r := newReconstructor(size)
	r.add(0, 0, 2, Patch{2, 4})
	r.add(1, 0, 2, Patch{6, 8})
	out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	r.writeTo(out, pixel.Image{}, 0, 0, 0)

	want := []float64{2, 5, 6, 8}
	for x, w := range want {
		if got := out.Float64At(x, 0, 0); math.Abs(got-w) > 1e-12 {
			t.Fatalf("out[%d] = %v, want %v", x, got, w)
		}
	}
}

func TestReconstructorLeavesMaskedPixelsUntouched(t *testing.T) {
	size := pixel.Size{Width: 2, Height: 1}
	r := newReconstructor(size)
	r.add(0, 0, 2, Patch{9, 9})

	out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	out.SetFloat64(1, 0, 0, 1.5)

	mask := pixel.NewMask(size, 1)
	mask.SetBoolAt(0, 0, 0, true)
	mask.SetBoolAt(1, 0, 0, false)

	r.writeTo(out, mask, 0, 0, 0)
	if got := out.Float64At(0, 0, 0); got != 9 {
		t.Fatalf("valid pixel = %v, want 9", got)
	}
	if got := out.Float64At(1, 0, 0); got != 1.5 {
		t.Fatalf("masked-invalid pixel should keep its prior value, got %v", got)
	}
}
