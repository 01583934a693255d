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

import (
	"math"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

// ChannelStdDev computes the population standard deviation of channel c of
// img over area, skipping pixels the mask (if non-empty) marks invalid.
// STARFM and ESTARFM both use this for the 2σ/K class-candidate threshold
// (spec.md §4.4 step 1, §4.5 step 1).
func ChannelStdDev(img pixel.Image, area pixel.Rectangle, mask pixel.Image, c int) float64 {
	sum, sumSq := 0.0, 0.0
	n := 0
	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			if !mask.Empty() && !mask.BoolAt(x, y, 0) {
				continue
			}
			v := img.Float64At(x, y, c)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// ClassThreshold implements the "σ(H)·2/K" rule shared by STARFM's
// candidate filter and ESTARFM's class search.
func ClassThreshold(sigma float64, numberClasses int) float64 {
	return sigma * 2 / float64(numberClasses)
}

// SumAbsDiff sums |a-b| over every channel of every mask-valid pixel in
// area, the T_k temporal-proximity weight STARFM and ESTARFM both use to
// combine their two single-pair predictions (spec.md §4.4 step 4, §4.5
// step 5).
func SumAbsDiff(a, b pixel.Image, area pixel.Rectangle, mask pixel.Image) float64 {
	sum := 0.0
	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			if !mask.Empty() && !mask.BoolAt(x, y, 0) {
				continue
			}
			for c := 0; c < a.Channels(); c++ {
				sum += math.Abs(a.Float64At(x, y, c) - b.Float64At(x, y, c))
			}
		}
	}
	return sum
}
