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

package fusion

import "github.com/mlnoga/imagefusion/internal/winstats"

// FitLine solves the ordinary least squares line y = slope*x + intercept
// from the five window sums. ok is false for a degenerate window
// (n·Σx² - (Σx)² == 0, spec.md §4.6 RM stage), in which case the caller
// applies its own fallback (Fit-FC: slope=1, intercept=0). ESTARFM does not
// use this helper; it regresses with its own regressSlope.
func FitLine(s winstats.Sums) (slope, intercept float64, ok bool) {
	n := float64(s.N)
	denom := n*s.SumXX - s.SumX*s.SumX
	if denom == 0 || s.N == 0 {
		return 1, 0, false
	}
	slope = (n*s.SumXY - s.SumX*s.SumY) / denom
	intercept = (s.SumY - slope*s.SumX) / n
	return slope, intercept, true
}
