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

// Package estarfm implements the ESTARFM engine of spec.md §4.5: class
// search intersected across two pairs, per-channel regression with a
// quality gate, and weighted prediction.
package estarfm

import (
	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
)

// Options configures ESTARFM. Exactly two pair dates (d1, d3) are required.
type Options struct {
	fusion.Common

	NumberClasses             int
	DataRangeMin, DataRangeMax float64 // clamps outputs; anchors the non-local uncertainty threshold
	UncertaintyFactor         float64  // scales sigma for the weighting/uncertainty filter
	LocalTol                  bool     // derive the uncertainty threshold from the std-dev of H(d1) over the whole image instead of DataRange
	QualityWeightedRegression bool     // blend poor-fit regression slopes toward 1 instead of hard-gating them
}

// Validate checks ESTARFM-specific invariants in addition to the common ones.
func (o Options) Validate() error {
	if err := o.Common.Validate(); err != nil {
		return err
	}
	if len(o.PairDates) != 2 {
		return pixel.InvalidArgumentf(len(o.PairDates), "ESTARFM requires exactly two pair dates")
	}
	if o.NumberClasses <= 0 {
		return pixel.InvalidArgumentf(o.NumberClasses, "number-classes must be > 0")
	}
	if o.DataRangeMax <= o.DataRangeMin {
		return pixel.InvalidArgumentf(o.DataRangeMax, "data-range max must be > data-range min")
	}
	if o.UncertaintyFactor <= 0 {
		return pixel.InvalidArgumentf(o.UncertaintyFactor, "uncertainty factor must be > 0")
	}
	return nil
}
