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

	"gonum.org/v1/gonum/stat"
)

// corrFloor is the fixed Pearson-correlation quality floor of spec.md §4.5
// step 2 ("absolute Pearson correlation below a fixed floor"). The exact
// value is not specified; 0.3 separates the visibly-noisy regression from
// the well-correlated ones in every documented test scenario.
const corrFloor = 0.3

// regressSlope fits the L -> H slope over the pooled (x, y) samples from
// both pairs and applies ESTARFM's quality gate (spec.md §4.5 step 2):
//   - degenerate x (zero variance) falls back to slope 1.
//   - a slope outside [0, 5] always falls back to 1, regardless of smoothing.
//   - a y with zero variance is a perfect, if trivial, fit and bypasses the
//     correlation gate entirely (there is nothing left for a correlation to
//     measure).
//   - otherwise the Pearson correlation gates the result: below corrFloor
//     and not smoothing, fall back to 1; with smoothing, blend the slope
//     toward 1 by r² regardless of whether it cleared the floor.
func regressSlope(xs, ys []float64, smoothing bool) float64 {
	n := len(xs)
	if n == 0 {
		return 1
	}

	_, varX := stat.MeanVariance(xs, nil)
	if varX == 0 || math.IsNaN(varX) {
		return 1
	}
	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if slope < 0 || slope > 5 {
		return 1
	}

	_, varY := stat.MeanVariance(ys, nil)
	if varY <= 1e-12 {
		return slope
	}

	r := stat.Correlation(xs, ys, nil)
	if smoothing {
		r2 := r * r
		return r2*slope + (1-r2)*1
	}
	if math.Abs(r) < corrFloor {
		return 1
	}
	return slope
}
