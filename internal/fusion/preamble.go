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

import "github.com/mlnoga/imagefusion/internal/pixel"

// RequiredImage names one (tag, date) an engine needs present before it can
// predict.
type RequiredImage struct {
	Tag  string
	Date int32
}

// Resolve fetches every required image from store, failing with a
// not-found error naming the first missing one (spec.md §4.8 step 1).
func Resolve(store *pixel.MultiResImage, required []RequiredImage) (map[RequiredImage]pixel.Image, error) {
	out := make(map[RequiredImage]pixel.Image, len(required))
	for _, r := range required {
		if !store.Has(r.Tag, r.Date) {
			return nil, pixel.NotFoundf(r.Tag, r.Date)
		}
		out[r] = store.Get(r.Tag, r.Date)
	}
	return out, nil
}

// CheckPair verifies high/low resolution images agree on size, base kind
// and channel count (spec.md §4.8 step 1).
func CheckPair(high, low pixel.Image) error {
	if high.Size() != low.Size() {
		return pixel.Sizef(low.Size(), "low-resolution image size does not match high-resolution image size %v", high.Size())
	}
	if high.Base() != low.Base() {
		return pixel.ImageKindf(low.Base(), "low-resolution base kind does not match high-resolution base kind %v", high.Base())
	}
	if high.Channels() != low.Channels() {
		return pixel.ImageKindf(low.Channels(), "low-resolution channel count does not match high-resolution channel count %d", high.Channels())
	}
	return nil
}

// DefaultPredictionArea returns area if non-empty, else the full image
// bounds (spec.md §4.8 step 2, "Default prediction area to full image if
// all-zero").
func DefaultPredictionArea(area pixel.Rectangle, imgSize pixel.Size) pixel.Rectangle {
	if area == (pixel.Rectangle{}) {
		return pixel.Rectangle{X: 0, Y: 0, Width: imgSize.Width, Height: imgSize.Height}
	}
	return area
}

// SampleArea inflates predictionArea by halfWindow and clips it to bounds
// (spec.md §3 "sample area").
func SampleArea(predictionArea pixel.Rectangle, halfWindow int, bounds pixel.Rectangle) pixel.Rectangle {
	return predictionArea.Inflate(halfWindow).Intersect(bounds)
}

// PrepareOutput reuses existing if its size/type already match, else
// allocates a fresh buffer (spec.md §4.8 step 3).
func PrepareOutput(existing pixel.Image, size pixel.Size, typ pixel.FullType) pixel.Image {
	if existing.Empty() || existing.Size() != size || existing.Type() != typ {
		return pixel.New(typ, size)
	}
	return existing
}

// PrepareMask validates mask against img and, if requireSingleChannel is
// set and mask has more than one channel, reduces it by per-pixel AND
// (spec.md §4.8 step 4). An empty mask is returned unchanged.
func PrepareMask(mask pixel.Image, img pixel.Image, requireSingleChannel bool) (pixel.Image, error) {
	if err := pixel.ValidateMask(mask, img); err != nil {
		return pixel.Image{}, err
	}
	if requireSingleChannel && !mask.Empty() && mask.Channels() > 1 {
		return pixel.ReduceToSingleChannel(mask), nil
	}
	return mask, nil
}
