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

// Kernel holds one monomorphized call per base kind, standing in for the
// source's templated functor `F::call<k>()`. Build one with a literal
// naming a closure per field; BaseKindDispatch picks the matching field at
// runtime and invokes it.
type Kernel[R any] struct {
	Int8    func() (R, error)
	Uint8   func() (R, error)
	Int16   func() (R, error)
	Uint16  func() (R, error)
	Int32   func() (R, error)
	Float32 func() (R, error)
	Float64 func() (R, error)
}

func (k Kernel[R]) fieldFor(b BaseKind) func() (R, error) {
	switch b {
	case Int8:
		return k.Int8
	case Uint8:
		return k.Uint8
	case Int16:
		return k.Int16
	case Uint16:
		return k.Uint16
	case Int32:
		return k.Int32
	case Float32:
		return k.Float32
	case Float64:
		return k.Float64
	default:
		return nil
	}
}

// BaseKindDispatch invokes the Kernel field matching b.
func BaseKindDispatch[R any](b BaseKind, k Kernel[R]) (R, error) {
	var zero R
	if !b.valid() {
		return zero, ImageKindf(b, "unrecognized base pixel kind")
	}
	fn := k.fieldFor(b)
	if fn == nil {
		return zero, ImageKindf(b, "kernel has no implementation for this base kind")
	}
	return fn()
}

// RestrictedBaseKindDispatch is BaseKindDispatch but additionally rejects
// any kind not present in allowed, as an image-kind error (spec.md §4.1
// "Restricted base-type dispatch").
func RestrictedBaseKindDispatch[R any](b BaseKind, allowed []BaseKind, k Kernel[R]) (R, error) {
	var zero R
	ok := false
	for _, a := range allowed {
		if a == b {
			ok = true
			break
		}
	}
	if !ok {
		return zero, ImageKindf(b, "pixel kind not permitted for this kernel")
	}
	return BaseKindDispatch(b, k)
}

// FullTypeDispatch dispatches on base kind (via k), after validating the
// channel count is within [1, MaxChannels] (spec.md §4.1 "Full-type
// dispatch"). The channel count itself is not part of the compile-time
// instantiation: kernels receive it as an ordinary runtime loop bound,
// mirroring how the original C++ templates on basetype only and loops
// channels with image.channels() at runtime (see original_source's
// interpolation.h and fitfc.cpp) — seven monomorphized kernels, not 175.
func FullTypeDispatch[R any](t FullType, k Kernel[R]) (R, error) {
	var zero R
	if t.Channels < 1 || t.Channels > MaxChannels {
		return zero, ImageKindf(t.Channels, "channel count out of range [1,%d]", MaxChannels)
	}
	return BaseKindDispatch(t.Base, k)
}
