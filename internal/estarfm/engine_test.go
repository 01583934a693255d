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
	"testing"

	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/mlnoga/imagefusion/internal/tile"
)

const (
	highTag = "high"
	lowTag  = "low"
)

func patternImage(size pixel.Size, channels int, seed int) pixel.Image {
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, size)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			for c := 0; c < channels; c++ {
				img.SetFloat64(x, y, c, float64((x*7+y*3+c*5+seed)%97))
			}
		}
	}
	return img
}

func baseOptions() Options {
	return Options{
		Common: fusion.Common{
			HighResTag: highTag,
			LowResTag:  lowTag,
			PairDates:  []int32{1, 3},
			WindowSize: 9,
		},
		NumberClasses:     10,
		DataRangeMin:      0,
		DataRangeMax:      255,
		UncertaintyFactor: 0.5,
	}
}

func newStore(size pixel.Size, channels int) *pixel.MultiResImage {
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, patternImage(size, channels, 11))
	store.Set(lowTag, 1, patternImage(size, channels, 17))
	store.Set(highTag, 3, patternImage(size, channels, 23))
	store.Set(lowTag, 3, patternImage(size, channels, 29))
	store.Set(lowTag, 2, patternImage(size, channels, 31))
	return store
}

func newEngine(t *testing.T, store *pixel.MultiResImage, opts Options) *Engine {
	t.Helper()
	e := New()
	e.SetSrcImages(store)
	if err := e.ProcessOptions(opts); err != nil {
		t.Fatalf("ProcessOptions: %v", err)
	}
	return e
}

func TestTileIndependence(t *testing.T) {
	size := pixel.Size{Width: 24, Height: 24}
	store := newStore(size, 1)
	opts := baseOptions()

	full := pixel.Rectangle{X: 0, Y: 0, Width: size.Width, Height: size.Height}
	sub := pixel.Rectangle{X: 5, Y: 6, Width: 8, Height: 10}

	fullOut := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	e1 := newEngine(t, store, opts)
	if err := e1.PredictArea(2, full, pixel.Image{}, fullOut); err != nil {
		t.Fatal(err)
	}

	subOut := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, sub.Size())
	e2 := newEngine(t, store, opts)
	if err := e2.PredictArea(2, sub, pixel.Image{}, subOut); err != nil {
		t.Fatal(err)
	}

	for y := 0; y < sub.Height; y++ {
		for x := 0; x < sub.Width; x++ {
			got := subOut.Float64At(x, y, 0)
			want := fullOut.Float64At(sub.X+x, sub.Y+y, 0)
			if got != want {
				t.Fatalf("pixel (%d,%d): sub-area %v != cropped full-area %v", x, y, got, want)
			}
		}
	}
}

func TestThreadEquivalence(t *testing.T) {
	size := pixel.Size{Width: 20, Height: 24}
	store := newStore(size, 1)
	opts := baseOptions()
	area := pixel.Rectangle{X: 0, Y: 0, Width: size.Width, Height: size.Height}

	single := newEngine(t, store, opts)
	singleOut := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	if err := single.PredictArea(2, area, pixel.Image{}, singleOut); err != nil {
		t.Fatal(err)
	}

	for _, threads := range []int{1, 2, 3, 5} {
		e := newEngine(t, store, opts)
		p := tile.New(e, threads)
		out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
		if err := p.Predict(2, area, pixel.Image{}, out); err != nil {
			t.Fatalf("threads=%d: %v", threads, err)
		}
		for y := 0; y < size.Height; y++ {
			for x := 0; x < size.Width; x++ {
				got, want := out.Float64At(x, y, 0), singleOut.Float64At(x, y, 0)
				if got != want {
					t.Fatalf("threads=%d pixel (%d,%d): got %v want %v", threads, x, y, got, want)
				}
			}
		}
	}
}

// A five-channel image must not panic or error (spec.md §8 "fuse_5_chan_img").
func TestFiveChannelImageDoesNotError(t *testing.T) {
	size := pixel.Size{Width: 16, Height: 16}
	store := newStore(size, 5)
	opts := baseOptions()
	opts.PredictionArea = pixel.Rectangle{X: 0, Y: 0, Width: size.Width, Height: size.Height}

	e := newEngine(t, store, opts)
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := e.OutputImage()
	if out.Channels() != 5 {
		t.Fatalf("expected 5 channels, got %d", out.Channels())
	}
}

func TestMaskedPixelLeftAtDefault(t *testing.T) {
	size := pixel.Size{Width: 16, Height: 16}
	store := newStore(size, 1)
	mask := pixel.NewMask(size, 1)
	mask.SetBoolAt(8, 8, 0, false)

	e := newEngine(t, store, baseOptions())
	if err := e.Predict(2, mask); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	if got := out.Float64At(8, 8, 0); got != 0 {
		t.Fatalf("masked pixel should be left at default 0, got %v", got)
	}
}

func TestOutputClampedToDataRange(t *testing.T) {
	size := pixel.Size{Width: 9, Height: 9}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, constImage(size, 1, 250))
	store.Set(lowTag, 1, constImage(size, 1, 10))
	store.Set(highTag, 3, constImage(size, 1, 250))
	store.Set(lowTag, 3, constImage(size, 1, 10))
	store.Set(lowTag, 2, constImage(size, 1, 500)) // far outside [0,255]

	opts := baseOptions()
	opts.NumberClasses = 1
	e := newEngine(t, store, opts)
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	if got := out.Float64At(4, 4, 0); got > opts.DataRangeMax || got < opts.DataRangeMin {
		t.Fatalf("expected clamp to [%v,%v], got %v", opts.DataRangeMin, opts.DataRangeMax, got)
	}
}

func constImage(size pixel.Size, channels int, v float64) pixel.Image {
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, size)
	img.Fill(v)
	return img
}

func TestValidateRejectsBadOptions(t *testing.T) {
	opts := baseOptions()
	opts.PairDates = []int32{1}
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for a single pair date")
	}
	opts = baseOptions()
	opts.NumberClasses = 0
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for NumberClasses=0")
	}
	opts = baseOptions()
	opts.DataRangeMax = opts.DataRangeMin
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for DataRangeMax <= DataRangeMin")
	}
}
