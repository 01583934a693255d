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

// Package interp fills cloud gaps in a per-date image time series by
// linear interpolation between the nearest clear dates on either side
// (spec.md §4.9 "Linear interpolation gap-fill"). It has no dependency on
// the four fusion engines; a caller-side pipeline runs it before or after
// predict, the same way the original collaborator tool did.
package interp

// PixelState classifies one output pixel's interpolation outcome.
type PixelState uint8

const (
	// NoData marks a pixel invalid in the validity mask at the
	// interpolation date, and not overridden by PreferCloudsOverNodata.
	NoData PixelState = 0
	// NonInterpolated marks a pixel that needed interpolation but had no
	// valid, non-cloudy neighbor on either side; its value is left
	// unchanged.
	NonInterpolated PixelState = 64
	// Interpolated marks a pixel successfully filled from one or two
	// neighboring dates.
	Interpolated PixelState = 192
	// Clear marks a pixel that was not cloudy at the interpolation date
	// and needed no interpolation.
	Clear PixelState = 128
)

// Options configures one Interpolate call.
type Options struct {
	// Tag selects the resolution tag within the image/cloud/validity
	// stores to interpolate.
	Tag string
	// Date is the target date whose cloudy pixels get filled.
	Date int32
	// PreferCloudsOverNodata controls how a pixel that is both
	// nodata-invalid and cloud-flagged at Date is treated: true
	// interpolates it like any other cloud; false leaves it NoData.
	PreferCloudsOverNodata bool
}

// Stats summarizes one Interpolate call, standing in for the source's
// per-run InterpStats bookkeeping (minus the filename, which this package
// does not know about).
type Stats struct {
	Date         int32
	NoData       int
	InterpBefore int // pixels flagged cloudy, before neighbor search
	InterpAfter  int // of those, pixels left NonInterpolated (no usable neighbor)
}
