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

package fitfc

import (
	"math"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

// cubicFilter downscales r by factor using area averaging and upscales it
// back to r's original size using bicubic (Catmull-Rom) interpolation
// (spec.md §4.6 "Bicubic residual upscaling"). factor == 1 returns r
// unchanged. r must be Float64-based; the result is too, same size as r.
//
// golang.org/x/image/draw's scalers operate on image.Image/color.Color,
// which cannot carry the unbounded, possibly-negative float64 residual
// values this step needs, and offer no area/box filter for the downscale
// half. Both legs are implemented directly against the float64 grid here
// instead.
func cubicFilter(r pixel.Image, factor int) pixel.Image {
	if factor == 1 {
		return r
	}
	small := areaDownscale(r, factor)
	return bicubicUpscale(small, r.Size())
}

// areaDownscale shrinks img by factor in both axes, each output pixel the
// mean of its factor x factor source block (clipped at the bottom/right
// edge for sizes not divisible by factor).
func areaDownscale(img pixel.Image, factor int) pixel.Image {
	w, h := img.Width(), img.Height()
	ow, oh := ceilDiv(w, factor), ceilDiv(h, factor)
	channels := img.Channels()
	out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, pixel.Size{Width: ow, Height: oh})

	for oy := 0; oy < oh; oy++ {
		y0, y1 := oy*factor, min(oy*factor+factor, h)
		for ox := 0; ox < ow; ox++ {
			x0, x1 := ox*factor, min(ox*factor+factor, w)
			n := float64((x1 - x0) * (y1 - y0))
			for c := 0; c < channels; c++ {
				sum := 0.0
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						sum += img.Float64At(x, y, c)
					}
				}
				out.SetFloat64(ox, oy, c, sum/n)
			}
		}
	}
	return out
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// bicubicUpscale resizes small up to outSize using separable Catmull-Rom
// cubic interpolation (a = -0.5), sampling small with clamp-to-edge
// boundary handling.
func bicubicUpscale(small pixel.Image, outSize pixel.Size) pixel.Image {
	sw, sh := small.Width(), small.Height()
	channels := small.Channels()
	out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, outSize)
	if sw == 0 || sh == 0 {
		return out
	}

	scaleX := float64(sw) / float64(outSize.Width)
	scaleY := float64(sh) / float64(outSize.Height)

	for oy := 0; oy < outSize.Height; oy++ {
		sy := (float64(oy)+0.5)*scaleY - 0.5
		iy := int(math.Floor(sy))
		fy := sy - float64(iy)
		wy := catmullRomWeights(fy)

		for ox := 0; ox < outSize.Width; ox++ {
			sx := (float64(ox)+0.5)*scaleX - 0.5
			ix := int(math.Floor(sx))
			fx := sx - float64(ix)
			wx := catmullRomWeights(fx)

			for c := 0; c < channels; c++ {
				v := 0.0
				for ty := -1; ty <= 2; ty++ {
					py := clampIndex(iy+ty, sh)
					rowSum := 0.0
					for tx := -1; tx <= 2; tx++ {
						px := clampIndex(ix+tx, sw)
						rowSum += wx[tx+1] * small.Float64At(px, py, c)
					}
					v += wy[ty+1] * rowSum
				}
				out.SetFloat64(ox, oy, c, v)
			}
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// catmullRomWeights returns the four Catmull-Rom spline weights (a = -0.5)
// for sample offsets -1, 0, 1, 2 around fractional position t in [0,1).
func catmullRomWeights(t float64) [4]float64 {
	const a = -0.5
	return [4]float64{
		cubicKernel(t+1, a),
		cubicKernel(t, a),
		cubicKernel(1-t, a),
		cubicKernel(2-t, a),
	}
}

// cubicKernel is Keys' cubic convolution kernel.
func cubicKernel(x, a float64) float64 {
	if x < 0 {
		x = -x
	}
	switch {
	case x <= 1:
		return (a+2)*x*x*x - (a+3)*x*x + 1
	case x < 2:
		return a*x*x*x - 5*a*x*x + 8*a*x - 4*a
	default:
		return 0
	}
}
