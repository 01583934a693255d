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

// Number is the set of Go types a monomorphized kernel may be instantiated
// over, one per BaseKind (spec.md §9 "per-variant monomorphized kernels").
type Number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~float32 | ~float64
}

// BaseKindOf maps a Go numeric type parameter back to its runtime BaseKind
// tag, so a generic kernel instantiated for T can assert it was called on
// an image of matching type.
func BaseKindOf[T Number]() BaseKind {
	var z T
	switch any(z).(type) {
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case float32:
		return Float32
	default:
		return Float64
	}
}

// At reads pixel (x,y,c) monomorphized for T. The kernel author instantiates
// this once per BaseKind case inside a Kernel literal (see dispatch.go);
// each instantiation is a distinct compiled function, same as the source's
// per-basetype template specializations.
func At[T Number](img Image, x, y, c int) T {
	return T(img.Float64At(x, y, c))
}

// SetAt writes pixel (x,y,c) monomorphized for T, saturating via the
// shared float64 path.
func SetAt[T Number](img Image, x, y, c int, v T) {
	img.SetFloat64(x, y, c, float64(v))
}
