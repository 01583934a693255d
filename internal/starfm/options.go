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

// Package starfm implements the STARFM engine of spec.md §4.4.
package starfm

import (
	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
)

// Options configures STARFM. One PairDate selects single-pair mode, two
// select double-pair mode.
type Options struct {
	fusion.Common

	NumberClasses  int     // K > 0, candidate-filter class count
	SigmaSpectral  float64 // > 0, uncertainty threshold on |H-L|
	SigmaTemporal  float64 // > 0, uncertainty threshold on |L(dk)-L(d2)|
	CopyOnZeroDiff bool    // avoid division near zero by copying the dominant term
}

// Validate checks STARFM-specific invariants in addition to the common ones.
func (o Options) Validate() error {
	if err := o.Common.Validate(); err != nil {
		return err
	}
	if len(o.PairDates) != 1 && len(o.PairDates) != 2 {
		return pixel.InvalidArgumentf(len(o.PairDates), "STARFM requires one or two pair dates")
	}
	if o.NumberClasses <= 0 {
		return pixel.InvalidArgumentf(o.NumberClasses, "number-classes must be > 0")
	}
	if o.SigmaSpectral <= 0 {
		return pixel.InvalidArgumentf(o.SigmaSpectral, "sigma-spectral must be > 0")
	}
	if o.SigmaTemporal <= 0 {
		return pixel.InvalidArgumentf(o.SigmaTemporal, "sigma-temporal must be > 0")
	}
	return nil
}
