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
	"testing"
)

func TestRegressNegativeSlopeFallsBackToOne(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	y := []float64{-1, -2, -4, -8}
	if got := regressSlope(x, y, false); got != 1 {
		t.Fatalf("got %v want 1", got)
	}
}

func TestRegressSteepSlopeFallsBackToOne(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	y := []float64{6, 12, 24, 48}
	if got := regressSlope(x, y, false); got != 1 {
		t.Fatalf("got %v want 1", got)
	}
}

func TestRegressExactSlope(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	y := []float64{3, 6, 12, 24}
	if got := regressSlope(x, y, false); math.Abs(got-3) > 1e-10 {
		t.Fatalf("got %v want 3", got)
	}
}

func TestRegressExactSlopeWithIntercept(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	y := []float64{8, 11, 17, 29}
	if got := regressSlope(x, y, false); math.Abs(got-3) > 1e-10 {
		t.Fatalf("got %v want 3", got)
	}
}

func TestRegressConstantYReturnsZeroSlopeUnconditionally(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	y := []float64{5, 5, 5, 5}
	if got := regressSlope(x, y, false); math.Abs(got) > 1e-10 {
		t.Fatalf("got %v want 0", got)
	}
}

func TestRegressDegenerateXFallsBackToOne(t *testing.T) {
	x := []float64{1, 1, 1, 1}
	y := []float64{3, 6, 12, 24}
	if got := regressSlope(x, y, false); got != 1 {
		t.Fatalf("got %v want 1", got)
	}
}

func TestRegressBadQualityFallsBackToOneWithoutSmoothing(t *testing.T) {
	x := []float64{1, 1.5, 2, 2.5, 3, 3.5, 4}
	y := []float64{200, 100, 100, -350, 50, 300, 100}
	if got := regressSlope(x, y, false); math.Abs(got-1) > 1e-10 {
		t.Fatalf("got %v want 1", got)
	}
}

func TestRegressBadQualityWithSmoothingExceedsOne(t *testing.T) {
	x := []float64{1, 1.5, 2, 2.5, 3, 3.5, 4}
	y := []float64{200, 100, 100, -350, 50, 300, 100}
	if got := regressSlope(x, y, true); got <= 1 {
		t.Fatalf("got %v want > 1", got)
	}
}

func TestRegressNearPerfectFitWithSmoothingIsPulledBelowLeastSquares(t *testing.T) {
	x := []float64{1, 2, 4, 8}
	y := []float64{4, 5, 13, 23}  // 3x+1, 3x-1, 3x+1, 3x-1
	const lsSlope = 81.25 / 28.75 // plain least-squares slope, about 2.826
	if got := regressSlope(x, y, true); got >= lsSlope {
		t.Fatalf("got %v want < %v", got, lsSlope)
	}
}

// Exactly-correlated pairs (spec.md §8): a pure linear relationship with no
// noise must regress to the true slope within 1e-10, with or without
// smoothing (r=1 makes the blend a no-op).
func TestRegressExactlyCorrelatedPairs(t *testing.T) {
	x := []float64{2, 4, 6, 8, 10, 12}
	y := make([]float64, len(x))
	const trueSlope = 2.5
	for i, v := range x {
		y[i] = trueSlope*v + 7
	}
	for _, smoothing := range []bool{false, true} {
		got := regressSlope(x, y, smoothing)
		if math.Abs(got-trueSlope) > 1e-10 {
			t.Fatalf("smoothing=%v: got %v want %v", smoothing, got, trueSlope)
		}
	}
}
