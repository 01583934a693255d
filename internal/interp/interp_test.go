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

package interp

import (
	"testing"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

const testTag = "l"

func constImage(size pixel.Size, v float64) pixel.Image {
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	img.Fill(v)
	return img
}

// clearMask returns a cloud mask with no cloudy pixels. Unlike
// pixel.NewMask (whose all-valid convention defaults to true), a cloud
// mask's "nothing flagged" default is false.
func clearMask(size pixel.Size) pixel.Image {
	return pixel.New(pixel.FullType{Base: pixel.Uint8, Channels: 1}, size)
}

func cloudMaskAt(size pixel.Size, cloudy map[[2]int]bool) pixel.Image {
	m := clearMask(size)
	for xy, v := range cloudy {
		m.SetBoolAt(xy[0], xy[1], 0, v)
	}
	return m
}

func TestInterpolateLinearlyFillsBetweenTwoDates(t *testing.T) {
	size := pixel.Size{Width: 2, Height: 1}
	imgs := pixel.NewMultiResImage()
	imgs.Set(testTag, 1, constImage(size, 10))
	imgs.Set(testTag, 2, constImage(size, 99)) // target date, will be overwritten
	imgs.Set(testTag, 3, constImage(size, 20))

	clouds := pixel.NewMultiResImage()
	clouds.Set(testTag, 1, clearMask(size))
	clouds.Set(testTag, 2, cloudMaskAt(size, map[[2]int]bool{{0, 0}: true, {1, 0}: true}))
	clouds.Set(testTag, 3, clearMask(size))

	out, state, stats, err := Interpolate(imgs, clouds, nil, Options{Tag: testTag, Date: 2})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	// date 2 is midway between 1 and 3, so the interpolated value is the
	// midpoint of 10 and 20.
	if got := out.Float64At(0, 0, 0); got != 15 {
		t.Fatalf("interpolated value = %v, want 15", got)
	}
	if got := PixelState(state.Float64At(0, 0, 0)); got != Interpolated {
		t.Fatalf("pixel state = %v, want Interpolated", got)
	}
	if stats.InterpBefore != 2 || stats.InterpAfter != 0 {
		t.Fatalf("stats = %+v, want InterpBefore=2 InterpAfter=0", stats)
	}
}

func TestInterpolateCopiesSingleSidedNeighbor(t *testing.T) {
	size := pixel.Size{Width: 1, Height: 1}
	imgs := pixel.NewMultiResImage()
	imgs.Set(testTag, 1, constImage(size, 7))
	imgs.Set(testTag, 2, constImage(size, 0))

	clouds := pixel.NewMultiResImage()
	clouds.Set(testTag, 1, clearMask(size))
	clouds.Set(testTag, 2, cloudMaskAt(size, map[[2]int]bool{{0, 0}: true}))

	out, state, _, err := Interpolate(imgs, clouds, nil, Options{Tag: testTag, Date: 2})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if got := out.Float64At(0, 0, 0); got != 7 {
		t.Fatalf("value = %v, want 7 (copied from the only valid neighbor)", got)
	}
	if got := PixelState(state.Float64At(0, 0, 0)); got != Interpolated {
		t.Fatalf("pixel state = %v, want Interpolated", got)
	}
}

func TestInterpolateMarksNonInterpolatedWhenNoValidNeighbor(t *testing.T) {
	size := pixel.Size{Width: 1, Height: 1}
	imgs := pixel.NewMultiResImage()
	imgs.Set(testTag, 1, constImage(size, 7))
	imgs.Set(testTag, 2, constImage(size, 42))

	clouds := pixel.NewMultiResImage()
	clouds.Set(testTag, 1, cloudMaskAt(size, map[[2]int]bool{{0, 0}: true}))
	clouds.Set(testTag, 2, cloudMaskAt(size, map[[2]int]bool{{0, 0}: true}))

	out, state, stats, err := Interpolate(imgs, clouds, nil, Options{Tag: testTag, Date: 2})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if got := out.Float64At(0, 0, 0); got != 42 {
		t.Fatalf("value = %v, want unchanged 42", got)
	}
	if got := PixelState(state.Float64At(0, 0, 0)); got != NonInterpolated {
		t.Fatalf("pixel state = %v, want NonInterpolated", got)
	}
	if stats.InterpAfter != 1 {
		t.Fatalf("InterpAfter = %d, want 1", stats.InterpAfter)
	}
}

func TestInterpolateLeavesClearPixelsUnmarkedAsInterpolated(t *testing.T) {
	size := pixel.Size{Width: 1, Height: 1}
	imgs := pixel.NewMultiResImage()
	imgs.Set(testTag, 1, constImage(size, 3))

	clouds := pixel.NewMultiResImage()
	clouds.Set(testTag, 1, clearMask(size))

	out, state, stats, err := Interpolate(imgs, clouds, nil, Options{Tag: testTag, Date: 1})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if got := out.Float64At(0, 0, 0); got != 3 {
		t.Fatalf("value = %v, want unchanged 3", got)
	}
	if got := PixelState(state.Float64At(0, 0, 0)); got != Clear {
		t.Fatalf("pixel state = %v, want Clear", got)
	}
	if stats.InterpBefore != 0 {
		t.Fatalf("InterpBefore = %d, want 0", stats.InterpBefore)
	}
}

func TestInterpolateRespectsValidityMaskOnNeighbors(t *testing.T) {
	size := pixel.Size{Width: 1, Height: 1}
	imgs := pixel.NewMultiResImage()
	imgs.Set(testTag, 1, constImage(size, 100)) // invalid: should be skipped
	imgs.Set(testTag, 2, constImage(size, 0))   // target
	imgs.Set(testTag, 3, constImage(size, 30))

	clouds := pixel.NewMultiResImage()
	clouds.Set(testTag, 1, clearMask(size))
	clouds.Set(testTag, 2, cloudMaskAt(size, map[[2]int]bool{{0, 0}: true}))
	clouds.Set(testTag, 3, clearMask(size))

	masks := pixel.NewMultiResImage()
	invalidMask := pixel.NewMask(size, 1)
	invalidMask.SetBoolAt(0, 0, 0, false)
	masks.Set(testTag, 1, invalidMask)

	out, _, _, err := Interpolate(imgs, clouds, masks, Options{Tag: testTag, Date: 2})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	// date 1 is invalid, so only date 3 is usable: single-sided copy.
	if got := out.Float64At(0, 0, 0); got != 30 {
		t.Fatalf("value = %v, want 30 (copied from the only valid neighbor)", got)
	}
}

func TestInterpolateNodataLeftAloneUnlessCloudsPreferred(t *testing.T) {
	size := pixel.Size{Width: 1, Height: 1}
	imgs := pixel.NewMultiResImage()
	imgs.Set(testTag, 1, constImage(size, 5))
	imgs.Set(testTag, 2, constImage(size, 77))
	imgs.Set(testTag, 3, constImage(size, 9))

	clouds := pixel.NewMultiResImage()
	clouds.Set(testTag, 1, clearMask(size))
	clouds.Set(testTag, 2, cloudMaskAt(size, map[[2]int]bool{{0, 0}: true}))
	clouds.Set(testTag, 3, clearMask(size))

	masks := pixel.NewMultiResImage()
	invalidAtTarget := pixel.NewMask(size, 1)
	invalidAtTarget.SetBoolAt(0, 0, 0, false)
	masks.Set(testTag, 2, invalidAtTarget)

	out, state, stats, err := Interpolate(imgs, clouds, masks, Options{Tag: testTag, Date: 2, PreferCloudsOverNodata: false})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if got := out.Float64At(0, 0, 0); got != 77 {
		t.Fatalf("value = %v, want unchanged 77 (NoData pixels are left alone)", got)
	}
	if got := PixelState(state.Float64At(0, 0, 0)); got != NoData {
		t.Fatalf("pixel state = %v, want NoData", got)
	}
	if stats.NoData != 1 {
		t.Fatalf("NoData = %d, want 1", stats.NoData)
	}

	out2, state2, _, err := Interpolate(imgs, clouds, masks, Options{Tag: testTag, Date: 2, PreferCloudsOverNodata: true})
	if err != nil {
		t.Fatalf("Interpolate: %v", err)
	}
	if got := out2.Float64At(0, 0, 0); got != 7 {
		t.Fatalf("value = %v, want 7 (midpoint of 5 and 9, clouds preferred over nodata)", got)
	}
	if got := PixelState(state2.Float64At(0, 0, 0)); got != Interpolated {
		t.Fatalf("pixel state = %v, want Interpolated", got)
	}
}

func TestSplitDatesOrdersNearestFirstOnEachSide(t *testing.T) {
	left, right := splitDates([]int32{1, 2, 5, 8, 10}, 5)
	wantLeft := []int32{2, 1}
	wantRight := []int32{8, 10}
	if len(left) != len(wantLeft) || len(right) != len(wantRight) {
		t.Fatalf("splitDates = (%v,%v), want (%v,%v)", left, right, wantLeft, wantRight)
	}
	for i := range wantLeft {
		if left[i] != wantLeft[i] {
			t.Fatalf("left[%d] = %d, want %d", i, left[i], wantLeft[i])
		}
	}
	for i := range wantRight {
		if right[i] != wantRight[i] {
			t.Fatalf("right[%d] = %d, want %d", i, right[i], wantRight[i])
		}
	}
}
