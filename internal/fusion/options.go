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

// Package fusion holds the contract shared by all four engines: the common
// option fields, the §4.8 prediction preamble, and the window-sum
// linear-regression helper used by Fit-FC.
package fusion

import "github.com/mlnoga/imagefusion/internal/pixel"

// Common is embedded by every engine's options struct (spec.md §3
// "Options"). Algorithm-specific fields live alongside it.
type Common struct {
	HighResTag     string
	LowResTag      string
	PairDates      []int32         // one date (STARFM/Fit-FC pair) or two (STARFM double-pair, ESTARFM, SPSTFM)
	PredictionArea pixel.Rectangle // zero value means "full image"
	WindowSize     int             // odd, >= 3
}

// Validate checks the invariants common to every engine (spec.md §6
// "Options validation"). Engine-specific Validate methods call this first.
func (c Common) Validate() error {
	if c.WindowSize < 3 || c.WindowSize%2 == 0 {
		return pixel.InvalidArgumentf(c.WindowSize, "window size must be odd and >= 3")
	}
	if len(c.PairDates) == 0 {
		return pixel.Logicf("at least one pair date must be set before predict")
	}
	if c.HighResTag == c.LowResTag {
		return pixel.InvalidArgumentf(c.HighResTag, "high-resolution tag must differ from low-resolution tag")
	}
	return nil
}

// HalfWindow returns the window's half-radius (S/2, integer division).
func (c Common) HalfWindow() int { return c.WindowSize / 2 }
