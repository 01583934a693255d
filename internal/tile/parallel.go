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

// Package tile implements the horizontal-stripe work partitioner of
// spec.md §4.3. It wraps an engine that satisfies ParallelizableEngine;
// Fit-FC and SPSTFM deliberately do not implement that interface, so
// passing one to New is a compile-time type error, the Go equivalent of
// the source's construction-time rejection (spec.md §5, §9 "Parallel
// forbidden engines").
package tile

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/pbnjay/memory"
)

// totalMemory is a seam over memory.TotalMemory for deterministic testing.
var totalMemory = memory.TotalMemory

// ParallelizableEngine is implemented by STARFM and ESTARFM. PredictArea
// must predict exactly area and, whenever out's size/type already match
// area's, write directly into out rather than allocating a fresh buffer
// (spec.md §4.3 "no copy is needed").
type ParallelizableEngine interface {
	Clone() ParallelizableEngine
	PredictArea(date int32, area pixel.Rectangle, mask pixel.Image, out pixel.Image) error
}

// Parallelizer splits a prediction area into near-equal horizontal stripes
// and runs one cloned engine per stripe.
type Parallelizer struct {
	engine  ParallelizableEngine
	Threads int // 0 selects a default based on logical core count

	// BytesPerStripe, if set (>0), estimates one stripe clone's memory
	// footprint (source engine clone plus its output view). The thread
	// count is capped so that the in-flight stripe clones stay within half
	// of total system memory, mirroring the teacher's own memory-budgeted
	// worker sizing (internal/ops/stack's multi-batch stacker, which reads
	// github.com/pbnjay/memory.TotalMemory() to bound how many batches run
	// at once). 0 disables this cap.
	BytesPerStripe int64
}

// New wraps engine for tiled, multi-threaded prediction.
func New(engine ParallelizableEngine, threads int) *Parallelizer {
	return &Parallelizer{engine: engine, Threads: threads}
}

func (p *Parallelizer) threadCount(areaHeight int) int {
	n := p.Threads
	if n <= 0 {
		n = cpuid.CPU.LogicalCores
		if n <= 0 {
			n = runtime.NumCPU()
		}
	}
	if p.BytesPerStripe > 0 {
		budget := int64(totalMemory()) / 2
		if byMemory := int(budget / p.BytesPerStripe); byMemory < n {
			if byMemory < 1 {
				byMemory = 1
			}
			n = byMemory
		}
	}
	if areaHeight < n {
		n = areaHeight
	}
	if n < 1 {
		n = 1
	}
	return n
}

// splitHeights divides total into n near-equal parts whose boundaries are
// chosen by half-even (banker's) rounding of i*total/n, so stripe heights
// sum exactly to total (spec.md §4.3 invariant).
func splitHeights(total, n int) []int {
	heights := make([]int, n)
	prev := 0
	for i := 1; i <= n; i++ {
		boundary := roundHalfEven(float64(i) * float64(total) / float64(n))
		heights[i-1] = boundary - prev
		prev = boundary
	}
	return heights
}

func roundHalfEven(x float64) int {
	floor := int(x)
	frac := x - float64(floor)
	switch {
	case frac < 0.5:
		return floor
	case frac > 0.5:
		return floor + 1
	default:
		if floor%2 == 0 {
			return floor
		}
		return floor + 1
	}
}

// Predict runs the wrapped engine over area (in absolute image
// coordinates), writing the prediction into out (sized exactly area.Size).
// mask, if non-empty, must be sized to the full source images and is
// indexed by every stripe using the same absolute coordinates as the
// source images themselves (it is never cropped, unlike out, which is only
// ever sized to the prediction area). Exactly one captured stripe error
// (the latest) is returned if any stripe failed (spec.md §5, §7).
func (p *Parallelizer) Predict(date int32, area pixel.Rectangle, mask pixel.Image, out pixel.Image) error {
	if area.Empty() {
		return pixel.Sizef(area, "prediction area is empty")
	}
	n := p.threadCount(area.Height)
	heights := splitHeights(area.Height, n)

	errs := make([]error, n)
	var wg sync.WaitGroup
	y := area.Y
	for i, h := range heights {
		if h <= 0 {
			continue
		}
		stripe := pixel.Rectangle{X: area.X, Y: y, Width: area.Width, Height: h}
		outView := out.SharedCopy(pixel.Rectangle{X: 0, Y: y - area.Y, Width: area.Width, Height: h})

		wg.Add(1)
		go func(i int, stripe pixel.Rectangle, outView pixel.Image) {
			defer wg.Done()
			clone := p.engine.Clone()
			if err := clone.PredictArea(date, stripe, mask, outView); err != nil {
				errs[i] = err
			}
		}(i, stripe, outView)

		y += h
	}
	wg.Wait()

	// Prefer the latest captured error, per spec.md §5 "preferring later
	// captures".
	var last error
	for _, e := range errs {
		if e != nil {
			last = e
		}
	}
	return last
}
