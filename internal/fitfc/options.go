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

// Package fitfc implements the Fit-FC data fusor (spec.md §4.6): a
// single-pair regression model, a bicubic-upscaled coarse residual, and a
// best-neighbor spatial filter with residual compensation. Its bicubic
// stage couples every output pixel to the whole prediction area, so unlike
// starfm/estarfm it does not implement tile.ParallelizableEngine.
package fitfc

import (
	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
)

// Options configures a Fit-FC prediction (spec.md §4.6 "Options").
type Options struct {
	fusion.Common

	NumberNeighbors  int // N, clamped to WindowSize^2 at predict time
	ResolutionFactor int // positive integer, 1 skips the residual resize step
	Threads          int // channel-parallel worker count for the RM stage; 0 selects a default
}

// Validate checks the invariants common to every engine, then Fit-FC's own:
// exactly one pair date and a positive resolution factor (spec.md §4.6).
func (o Options) Validate() error {
	if err := o.Common.Validate(); err != nil {
		return err
	}
	if len(o.PairDates) != 1 {
		return pixel.InvalidArgumentf(len(o.PairDates), "Fit-FC requires exactly one pair date, got %d", len(o.PairDates))
	}
	if o.NumberNeighbors <= 0 {
		return pixel.InvalidArgumentf(o.NumberNeighbors, "number of neighbors must be positive")
	}
	if o.ResolutionFactor <= 0 {
		return pixel.InvalidArgumentf(o.ResolutionFactor, "resolution factor must be a positive integer")
	}
	return nil
}
