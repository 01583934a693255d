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

import "math"

// storage is the backing allocation shared by an owning Image and every
// shared/cropped view taken from it. Pointer identity of storage is what
// IsSharedWith tests (spec.md §3 "a 'clone' performs a deep copy;
// isSharedWith tests storage identity").
type storage struct {
	data   []byte
	typ    FullType
	width  int
	height int
	stride int // bytes per row
}

// Image is an owning, shareable, croppable 2-D pixel buffer. The zero value
// is an empty/invalid image (width=height=0); use New to allocate one.
type Image struct {
	s    *storage
	crop Rectangle // always relative to s's full (0,0,width,height) and contained in it
}

// New allocates a fresh, zero-filled owning image of the given type/size.
func New(typ FullType, size Size) Image {
	if !typ.Valid() {
		panic(ImageKindf(typ, "invalid pixel type"))
	}
	stride := size.Width * typ.BytesPerPixel()
	s := &storage{
		data:   make([]byte, stride*size.Height),
		typ:    typ,
		width:  size.Width,
		height: size.Height,
		stride: stride,
	}
	return Image{s: s, crop: Rectangle{0, 0, size.Width, size.Height}}
}

// Empty reports whether the image has no backing storage or zero area.
func (img Image) Empty() bool { return img.s == nil || img.crop.Empty() }

func (img Image) Type() FullType  { return img.s.typ }
func (img Image) Base() BaseKind  { return img.s.typ.Base }
func (img Image) Channels() int   { return img.s.typ.Channels }
func (img Image) Width() int      { return img.crop.Width }
func (img Image) Height() int     { return img.crop.Height }
func (img Image) Size() Size      { return img.crop.Size() }
func (img Image) Bounds() Rectangle { return Rectangle{0, 0, img.crop.Width, img.crop.Height} }

// SharedCopy returns a view sharing the same backing storage, optionally
// further cropped by rel (relative to this image's own visible region, and
// nestable: cropping a crop composes). Passing a zero Rectangle shares the
// full currently-visible region.
func (img Image) SharedCopy(rel ...Rectangle) Image {
	r := img.Bounds()
	if len(rel) > 0 && !rel[0].Empty() {
		r = rel[0]
	}
	if !img.Bounds().Contains(r) {
		panic(Sizef(r, "crop rectangle extends outside parent image bounds"))
	}
	return Image{
		s: img.s,
		crop: Rectangle{
			X: img.crop.X + r.X, Y: img.crop.Y + r.Y,
			Width: r.Width, Height: r.Height,
		},
	}
}

// IsSharedWith reports whether img and other share the same backing storage.
func (img Image) IsSharedWith(other Image) bool {
	return img.s != nil && img.s == other.s
}

// Clone returns a deep, independently-owned copy of the visible region.
func (img Image) Clone() Image {
	out := New(img.Type(), img.Size())
	rowBytes := img.Width() * img.Type().BytesPerPixel()
	for y := 0; y < img.Height(); y++ {
		copy(out.rowBytes(y), img.rowBytes(y)[:rowBytes])
	}
	return out
}

// rowBytes returns the raw backing bytes for visible row y (len >= row width).
func (img Image) rowBytes(y int) []byte {
	absY := img.crop.Y + y
	rowStart := absY*img.s.stride + img.crop.X*img.Type().BytesPerPixel()
	return img.s.data[rowStart:]
}

func (img Image) pixelOffset(x, y, c int) int {
	return (img.crop.Y+y)*img.s.stride + (img.crop.X+x)*img.Type().BytesPerPixel() + c*img.Base().Size()
}

// Fill sets every channel of every pixel to v (interpreted per base kind).
func (img Image) Fill(v float64) {
	for y := 0; y < img.Height(); y++ {
		for x := 0; x < img.Width(); x++ {
			for c := 0; c < img.Channels(); c++ {
				img.SetFloat64(x, y, c, v)
			}
		}
	}
}

// Set writes v into every byte of the visible region (Set(0) on a mask
// marks every pixel invalid; NewMask uses Set(255) for all-valid).
func (img Image) Set(v byte) {
	for y := 0; y < img.Height(); y++ {
		row := img.rowBytes(y)[:img.Width()*img.Type().BytesPerPixel()]
		for i := range row {
			row[i] = v
		}
	}
}

// Float64At reads pixel (x,y,c) as a float64 regardless of base kind. This
// is the generic, kind-erased accessor kernels use for arithmetic; the
// monomorphized fast paths live in accessors.go via the Number type param.
func (img Image) Float64At(x, y, c int) float64 {
	off := img.pixelOffset(x, y, c)
	d := img.s.data
	switch img.Base() {
	case Int8:
		return float64(int8(d[off]))
	case Uint8:
		return float64(d[off])
	case Int16:
		return float64(int16(uint16(d[off]) | uint16(d[off+1])<<8))
	case Uint16:
		return float64(uint16(d[off]) | uint16(d[off+1])<<8)
	case Int32:
		return float64(int32(le32(d[off:])))
	case Float32:
		return float64(math.Float32frombits(le32(d[off:])))
	case Float64:
		return math.Float64frombits(le64(d[off:]))
	default:
		return 0
	}
}

// SetFloat64 writes pixel (x,y,c), saturating to the base kind's range for
// integral kinds (spec.md §8 "patch averaging saturation").
func (img Image) SetFloat64(x, y, c int, v float64) {
	off := img.pixelOffset(x, y, c)
	d := img.s.data
	switch img.Base() {
	case Int8:
		d[off] = byte(int8(saturate(v, math.MinInt8, math.MaxInt8)))
	case Uint8:
		d[off] = byte(saturate(v, 0, math.MaxUint8))
	case Int16:
		putLE16(d[off:], uint16(int16(saturate(v, math.MinInt16, math.MaxInt16))))
	case Uint16:
		putLE16(d[off:], uint16(saturate(v, 0, math.MaxUint16)))
	case Int32:
		putLE32(d[off:], uint32(int32(saturate(v, math.MinInt32, math.MaxInt32))))
	case Float32:
		putLE32(d[off:], math.Float32bits(float32(v)))
	case Float64:
		putLE64(d[off:], math.Float64bits(v))
	}
}

// BoolAt treats 0 as false and any non-zero value as true (spec.md §3).
func (img Image) BoolAt(x, y, c int) bool {
	return img.Float64At(x, y, c) != 0
}

// SetBoolAt stores false as 0 and true as 255, the mask convention.
func (img Image) SetBoolAt(x, y, c int, v bool) {
	if v {
		img.SetFloat64(x, y, c, 255)
	} else {
		img.SetFloat64(x, y, c, 0)
	}
}

func saturate(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return math.Round(v)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func putLE64(b []byte, v uint64) {
	putLE32(b, uint32(v))
	putLE32(b[4:], uint32(v>>32))
}
