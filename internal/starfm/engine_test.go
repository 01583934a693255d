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
	"testing"

	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/mlnoga/imagefusion/internal/tile"
)

const (
	highTag = "H"
	lowTag  = "L"
)

func constImage(size pixel.Size, channels int, v float64) pixel.Image {
	img := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, size)
	img.Fill(v)
	return img
}

func baseOptions(pairs []int32) Options {
	return Options{
		Common: fusion.Common{
			HighResTag: highTag,
			LowResTag:  lowTag,
			PairDates:  pairs,
			WindowSize: 5,
		},
		NumberClasses: 4,
		SigmaSpectral: 10,
		SigmaTemporal: 10,
	}
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

// Both the spectral and temporal center differences are zero: spec.md §8
// expects CopyOnZeroDiff to return H(d1) unchanged (temporal checked first).
func TestCopyOnZeroDiffBothZeroReturnsHigh(t *testing.T) {
	size := pixel.Size{Width: 9, Height: 9}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, constImage(size, 1, 100))
	store.Set(lowTag, 1, constImage(size, 1, 100))
	store.Set(lowTag, 2, constImage(size, 1, 100))

	opts := baseOptions([]int32{1})
	opts.CopyOnZeroDiff = true
	e := newEngine(t, store, opts)
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	if got := out.Float64At(4, 4, 0); got != 100 {
		t.Fatalf("expected H(d1)=100 unchanged, got %v", got)
	}
}

// Only the spectral center difference is zero: spec.md §8 expects
// CopyOnZeroDiff to return L(d2).
func TestCopyOnZeroDiffSpectralOnlyReturnsLowTarget(t *testing.T) {
	size := pixel.Size{Width: 9, Height: 9}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, constImage(size, 1, 50))
	store.Set(lowTag, 1, constImage(size, 1, 50))
	store.Set(lowTag, 2, constImage(size, 1, 255))

	opts := baseOptions([]int32{1})
	opts.CopyOnZeroDiff = true
	e := newEngine(t, store, opts)
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	if got := out.Float64At(4, 4, 0); got != 255 {
		t.Fatalf("expected L(d2)=255, got %v", got)
	}
}

// Without CopyOnZeroDiff, an all-constant scene (every diff zero everywhere)
// still must not divide by zero: the weighted sum degenerates to a uniform
// candidate set and should reproduce the constant value.
func TestUniformSceneProducesUniformOutput(t *testing.T) {
	size := pixel.Size{Width: 11, Height: 11}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, constImage(size, 1, 77))
	store.Set(lowTag, 1, constImage(size, 1, 77))
	store.Set(lowTag, 2, constImage(size, 1, 77))

	e := newEngine(t, store, baseOptions([]int32{1}))
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			if got := out.Float64At(x, y, 0); got != 77 {
				t.Fatalf("pixel (%d,%d): got %v want 77", x, y, got)
			}
		}
	}
}

// A masked-out pixel must keep the pre-initialized (zero) output value
// rather than receive a prediction (mask monotonicity, spec.md §7).
func TestMaskedPixelLeftAtDefault(t *testing.T) {
	size := pixel.Size{Width: 9, Height: 9}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, constImage(size, 1, 200))
	store.Set(lowTag, 1, constImage(size, 1, 150))
	store.Set(lowTag, 2, constImage(size, 1, 180))

	mask := pixel.NewMask(size, 1)
	mask.SetBoolAt(4, 4, 0, false)

	e := newEngine(t, store, baseOptions([]int32{1}))
	if err := e.Predict(2, mask); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	if got := out.Float64At(4, 4, 0); got != 0 {
		t.Fatalf("masked pixel should be left at default 0, got %v", got)
	}
	if got := out.Float64At(0, 0, 0); got == 0 {
		t.Fatalf("unmasked pixel should have received a prediction, got %v", got)
	}
}

// Every channel is processed independently (spec.md §4.1 "multi-channel
// factorization"): differing per-channel values must not leak across
// channels.
func TestMultiChannelFactorization(t *testing.T) {
	size := pixel.Size{Width: 9, Height: 9}
	h := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 2}, size)
	l1 := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 2}, size)
	l2 := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 2}, size)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			h.SetFloat64(x, y, 0, 10)
			h.SetFloat64(x, y, 1, 200)
			l1.SetFloat64(x, y, 0, 10)
			l1.SetFloat64(x, y, 1, 200)
			l2.SetFloat64(x, y, 0, 10)
			l2.SetFloat64(x, y, 1, 200)
		}
	}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, h)
	store.Set(lowTag, 1, l1)
	store.Set(lowTag, 2, l2)

	e := newEngine(t, store, baseOptions([]int32{1}))
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	if got := out.Float64At(4, 4, 0); got != 10 {
		t.Fatalf("channel 0: got %v want 10", got)
	}
	if got := out.Float64At(4, 4, 1); got != 200 {
		t.Fatalf("channel 1: got %v want 200", got)
	}
}

// Running the engine through tile.Parallelizer at varying thread counts must
// reproduce the single-threaded result exactly (spec.md §8 "thread
// equivalence").
func TestThreadEquivalence(t *testing.T) {
	size := pixel.Size{Width: 16, Height: 20}
	h := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	l1 := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	l2 := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			h.SetFloat64(x, y, 0, float64((x*7+y*3)%97))
			l1.SetFloat64(x, y, 0, float64((x*5+y*11)%89))
			l2.SetFloat64(x, y, 0, float64((x*13+y*2)%101))
		}
	}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, h)
	store.Set(lowTag, 1, l1)
	store.Set(lowTag, 2, l2)

	area := pixel.Rectangle{X: 0, Y: 0, Width: size.Width, Height: size.Height}
	opts := baseOptions([]int32{1})

	single := newEngine(t, store, opts)
	singleOut := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	if err := single.PredictArea(2, area, pixel.Image{}, singleOut); err != nil {
		t.Fatal(err)
	}

	for _, threads := range []int{1, 2, 3, 4} {
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

// Double-pair mode must weight the two single-pair predictions by temporal
// proximity: when pair 1's L matches the target exactly and pair 2's L does
// not, pair 1's prediction should dominate.
func TestDoublePairWeightsCloserPairMoreHeavily(t *testing.T) {
	size := pixel.Size{Width: 9, Height: 9}
	store := pixel.NewMultiResImage()
	store.Set(highTag, 1, constImage(size, 1, 100))
	store.Set(lowTag, 1, constImage(size, 1, 120))
	store.Set(highTag, 3, constImage(size, 1, 180))
	store.Set(lowTag, 3, constImage(size, 1, 140))
	store.Set(lowTag, 2, constImage(size, 1, 122)) // close to L(d1)=120, far from L(d3)=140

	opts := baseOptions([]int32{1, 3})
	// |H-L| is 20 (pair 1) and 40 (pair 3); raise the uncertainty thresholds
	// so neither pair's candidates are all rejected.
	opts.SigmaSpectral = 50
	opts.SigmaTemporal = 50
	e := newEngine(t, store, opts)
	if err := e.Predict(2, pixel.Image{}); err != nil {
		t.Fatal(err)
	}
	out := e.OutputImage()
	// pair 1 predicts H+L2-L1=100+122-120=102, pair 3 predicts 180+122-140=162.
	// Pair 1 is temporally closer (|120-122|=2 vs |140-122|=18) and should
	// dominate the combination, pulling the result near 102 rather than
	// the midpoint (132).
	got := out.Float64At(4, 4, 0)
	if got <= 102 || got >= 132 {
		t.Fatalf("expected combined prediction dominated by the temporally closer pair (~102), got %v", got)
	}
}

func TestValidateRejectsBadOptions(t *testing.T) {
	opts := baseOptions([]int32{1})
	opts.NumberClasses = 0
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for NumberClasses=0")
	}
	opts = baseOptions(nil)
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for no pair dates")
	}
	opts = baseOptions([]int32{1, 2, 3})
	if err := opts.Validate(); err == nil {
		t.Fatal("expected an error for three pair dates")
	}
}
