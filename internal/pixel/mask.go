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

package pixel

// NewMask allocates an all-valid (255) mask of the given size and channel
// count (1 or N, matching a data image per spec.md §3 "Mask").
func NewMask(size Size, channels int) Image {
	m := New(FullType{Base: Uint8, Channels: channels}, size)
	m.Set(255)
	return m
}

// ValidateMask checks a mask against the image it will be applied to:
// base kind must be Uint8, channel count must be 1 or match img's, and the
// size must be equal (spec.md §4.8 check_input_images).
func ValidateMask(mask Image, img Image) error {
	if mask.Empty() {
		return nil
	}
	if mask.Base() != Uint8 {
		return ImageKindf(mask.Base(), "mask must have uint8 base kind")
	}
	if mask.Channels() != 1 && mask.Channels() != img.Channels() {
		return ImageKindf(mask.Channels(), "mask channel count must be 1 or %d", img.Channels())
	}
	if mask.Size() != img.Size() {
		return Sizef(mask.Size(), "mask size %v does not match image size %v", mask.Size(), img.Size())
	}
	return nil
}

// ReduceToSingleChannel ANDs a multi-channel mask down to one channel:
// invalid (false) if any channel is invalid (spec.md §3).
func ReduceToSingleChannel(mask Image) Image {
	if mask.Empty() || mask.Channels() == 1 {
		return mask
	}
	out := NewMask(mask.Size(), 1)
	for y := 0; y < mask.Height(); y++ {
		for x := 0; x < mask.Width(); x++ {
			valid := true
			for c := 0; c < mask.Channels(); c++ {
				if !mask.BoolAt(x, y, c) {
					valid = false
					break
				}
			}
			out.SetBoolAt(x, y, 0, valid)
		}
	}
	return out
}

// FromValidRange derives a single-channel mask from a data image: a pixel
// is valid iff every channel's value lies within [lo, hi].
func FromValidRange(img Image, lo, hi float64) Image {
	out := NewMask(img.Size(), 1)
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			valid := true
			for c := 0; c < img.Channels(); c++ {
				v := img.Float64At(x, y, c)
				if v < lo || v > hi {
					valid = false
					break
				}
			}
			out.SetBoolAt(x, y, 0, valid)
		}
	}
	return out
}

// FromInvalidValues derives a single-channel mask marking pixels invalid
// when any channel equals one of the given fill/nodata values.
func FromInvalidValues(img Image, invalid []float64) Image {
	out := NewMask(img.Size(), 1)
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			valid := true
		channels:
			for c := 0; c < img.Channels(); c++ {
				v := img.Float64At(x, y, c)
				for _, bad := range invalid {
					if v == bad {
						valid = false
						break channels
					}
				}
			}
			out.SetBoolAt(x, y, 0, valid)
		}
	}
	return out
}

// And combines two single-channel masks of equal size: valid iff both are.
func And(a, b Image) Image {
	out := NewMask(a.Size(), 1)
	for y := 0; y < a.Height(); y++ {
		for x := 0; x < a.Width(); x++ {
			out.SetBoolAt(x, y, 0, a.BoolAt(x, y, 0) && b.BoolAt(x, y, 0))
		}
	}
	return out
}
