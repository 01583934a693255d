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

package interp

import (
	"runtime"
	"sync"

	"github.com/mlnoga/imagefusion/internal/pixel"
)

// Interpolate fills opts.Tag's cloudy pixels at opts.Date by linear
// interpolation between the nearest non-cloudy, validly-masked dates on
// either side (spec.md §4.9). imgs holds the per-date image stack, clouds
// the per-date cloud mask, and masks the optional per-date validity mask;
// masks may be nil if no validity masking is needed.
//
// It returns the interpolated image (a fresh copy; imgs is untouched), a
// per-pixel PixelState image of the same shape with base kind Uint8, and
// run statistics.
func Interpolate(imgs, clouds, masks *pixel.MultiResImage, opts Options) (pixel.Image, pixel.Image, Stats, error) {
	if imgs == nil {
		return pixel.Image{}, pixel.Image{}, Stats{}, pixel.Logicf("Interpolate called with a nil image store")
	}
	if clouds == nil {
		return pixel.Image{}, pixel.Image{}, Stats{}, pixel.Logicf("Interpolate called with a nil cloud mask store")
	}
	if !imgs.Has(opts.Tag, opts.Date) {
		return pixel.Image{}, pixel.Image{}, Stats{}, pixel.NotFoundf(opts.Tag, opts.Date)
	}
	src := imgs.Get(opts.Tag, opts.Date)
	size, channels := src.Size(), src.Channels()

	interped := src.Clone()
	state := pixel.New(pixel.FullType{Base: pixel.Uint8, Channels: channels}, size)

	dates := imgs.GetDates(opts.Tag)
	left, right := splitDates(dates, opts.Date)

	predMask := pixel.Image{}
	if masks != nil && masks.Has(opts.Tag, opts.Date) {
		predMask = masks.Get(opts.Tag, opts.Date)
	}

	var nNoData, nInterpBefore, nInterpAfter int
	var mu sync.Mutex

	rows := size.Height
	threads := runtime.NumCPU()
	if threads > rows {
		threads = rows
	}
	if threads > 1 {
		// row parallelism, mirroring the source's "#pragma omp parallel
		// for" over y (spec.md §5 "Inner (channel/row parallelism)").
		var wg sync.WaitGroup
		jobs := make(chan int, rows)
		for y := 0; y < rows; y++ {
			jobs <- y
		}
		close(jobs)
		for t := 0; t < threads && t < rows; t++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for y := range jobs {
					noData, before, after := interpolateRow(y, size.Width, channels, opts, imgs, clouds, masks, predMask, left, right, interped, state)
					mu.Lock()
					nNoData += noData
					nInterpBefore += before
					nInterpAfter += after
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	} else {
		for y := 0; y < rows; y++ {
			noData, before, after := interpolateRow(y, size.Width, channels, opts, imgs, clouds, masks, predMask, left, right, interped, state)
			nNoData += noData
			nInterpBefore += before
			nInterpAfter += after
		}
	}

	stats := Stats{Date: opts.Date, NoData: nNoData, InterpBefore: nInterpBefore, InterpAfter: nInterpAfter}
	return interped, state, stats, nil
}

// splitDates partitions dates (ascending) around interpDate into the dates
// strictly to its left (nearest first) and strictly to its right (nearest
// first), mirroring the source's reversed-left / forward-right iteration
// order.
func splitDates(dates []int32, interpDate int32) (left, right []int32) {
	idx := -1
	for i, d := range dates {
		if d == interpDate {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}
	left = make([]int32, idx)
	for i := 0; i < idx; i++ {
		left[i] = dates[idx-1-i]
	}
	right = append([]int32(nil), dates[idx+1:]...)
	return left, right
}

func interpolateRow(y, width, channels int, opts Options, imgs, clouds, masks *pixel.MultiResImage, predMask pixel.Image, left, right []int32, interped, state pixel.Image) (nNoData, nInterpBefore, nInterpAfter int) {
	cloudAt := clouds.Get(opts.Tag, opts.Date)
	for x := 0; x < width; x++ {
		for c := 0; c < channels; c++ {
			maskChannel := 0
			if !predMask.Empty() && predMask.Channels() > c {
				maskChannel = c
			}
			isInvalid := !predMask.Empty() && !predMask.BoolAt(x, y, maskChannel)
			isCloud := !cloudAt.Empty() && cloudAt.BoolAt(x, y, 0)

			if isInvalid && (!isCloud || !opts.PreferCloudsOverNodata) {
				nNoData++
				state.SetFloat64(x, y, c, float64(NoData))
				continue
			}
			if !isCloud {
				state.SetFloat64(x, y, c, float64(Clear))
				continue
			}

			state.SetFloat64(x, y, c, float64(Interpolated))
			nInterpBefore++

			dateLeft, okLeft := nearestValidDate(imgs, clouds, masks, opts.Tag, left, x, y, c)
			dateRight, okRight := nearestValidDate(imgs, clouds, masks, opts.Tag, right, x, y, c)

			switch {
			case !okLeft && !okRight:
				state.SetFloat64(x, y, c, float64(NonInterpolated))
				nInterpAfter++
			case !okRight:
				interped.SetFloat64(x, y, c, imgs.Get(opts.Tag, dateLeft).Float64At(x, y, c))
			case !okLeft:
				interped.SetFloat64(x, y, c, imgs.Get(opts.Tag, dateRight).Float64At(x, y, c))
			default:
				yLeft := imgs.Get(opts.Tag, dateLeft).Float64At(x, y, c)
				yRight := imgs.Get(opts.Tag, dateRight).Float64At(x, y, c)
				yInt := float64(opts.Date-dateLeft)*(yRight-yLeft)/float64(dateRight-dateLeft) + yLeft
				interped.SetFloat64(x, y, c, yInt)
			}
		}
	}
	return nNoData, nInterpBefore, nInterpAfter
}

// nearestValidDate scans dates (already ordered nearest-first) for the
// first one where pixel (x,y,c) is both validly masked (per the per-date
// validity mask, if any) and not cloud-flagged.
func nearestValidDate(imgs, clouds, masks *pixel.MultiResImage, tag string, dates []int32, x, y, c int) (int32, bool) {
	for _, d := range dates {
		if masks != nil && masks.Has(tag, d) {
			m := masks.Get(tag, d)
			if !m.Empty() {
				mc := 0
				if m.Channels() > c {
					mc = c
				}
				if !m.BoolAt(x, y, mc) {
					continue
				}
			}
		}
		if clouds.Has(tag, d) {
			cm := clouds.Get(tag, d)
			if !cm.Empty() && cm.BoolAt(x, y, 0) {
				continue
			}
		}
		return d, true
	}
	return 0, false
}
