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

package spstfm

import (
	"math"
	"runtime"
	"sync"

	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

// Engine implements the SPSTFM data fusor (spec.md §4.7, §6 "Engine ABI").
// Training and reconstruction both parallelize across channels internally
// (spec.md §5 "Inner (channel/row parallelism)"), so, like fitfc.Engine, it
// has no Clone/PredictArea pair and cannot satisfy
// tile.ParallelizableEngine.
type Engine struct {
	store *pixel.MultiResImage
	opts  Options
	out   pixel.Image
	dict  []*Dictionary // one per channel; grows lazily to match the source images

	// DebugInfo holds the most recent Predict call's per-channel training
	// trace, indexed like dict. It is cleared at the start of every Predict
	// call rather than appended to, since the dbg_* vectors it replaces have
	// no documented retention policy across calls (spec.md §9 Open
	// Questions, "SPSTFM debug vectors").
	DebugInfo []ChannelDebugInfo
}

// ChannelDebugInfo records one channel's training trajectory from the most
// recent Predict call: the stop-function metric evaluated at the end of
// each K-SVD/GPSR iteration, in iteration order, plus the iteration at
// which the best-shot snapshot (if any) was taken.
type ChannelDebugInfo struct {
	StopMetric    []float64
	BestShotIter  int // -1 if BestShotErrorSet == BestShotNone or no improving shot was seen
	BestShotError float64
}

func New() *Engine { return &Engine{} }

func (e *Engine) SetSrcImages(store *pixel.MultiResImage) { e.store = store }

func (e *Engine) ProcessOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	e.opts = opts
	return nil
}

func (e *Engine) OutputImage() pixel.Image { return e.out }

// Dictionaries returns the engine's currently trained per-channel
// dictionaries (spec.md §6 "get_dictionary", §7.4 "Persistent state"). A
// channel not yet trained has a nil entry.
func (e *Engine) Dictionaries() []*Dictionary { return e.dict }

// SetDictionaries installs dictionaries to reuse on the next Predict call
// per DictionaryReuse (spec.md §4.7 "dictionary-reuse").
func (e *Engine) SetDictionaries(dicts []*Dictionary) { e.dict = dicts }

// channelStats holds the mean/scale normalization factors applied to one
// channel's high- and low-resolution difference samples before dictionary
// training and reconstruction (spec.md §4.7 "Normalization").
type channelStats struct {
	meanH, scaleH float64
	meanL, scaleL float64
}

// Predict runs SPSTFM training (unless DictionaryReuse == DictionaryUse and
// a dictionary is already stored) followed by patch-based reconstruction
// for date2, restricted to opts.PredictionArea (spec.md §4.7).
func (e *Engine) Predict(date2 int32, mask pixel.Image) error {
	if e.store == nil {
		return pixel.Logicf("Predict called before SetSrcImages")
	}
	opts := e.opts
	d1, d3 := opts.PairDates[0], opts.PairDates[1]

	required := []fusion.RequiredImage{
		{Tag: opts.HighResTag, Date: d1}, {Tag: opts.LowResTag, Date: d1},
		{Tag: opts.HighResTag, Date: d3}, {Tag: opts.LowResTag, Date: d3},
		{Tag: opts.LowResTag, Date: date2},
	}
	imgs, err := fusion.Resolve(e.store, required)
	if err != nil {
		return err
	}
	h1 := imgs[fusion.RequiredImage{Tag: opts.HighResTag, Date: d1}]
	l1 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: d1}]
	h3 := imgs[fusion.RequiredImage{Tag: opts.HighResTag, Date: d3}]
	l3 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: d3}]
	l2 := imgs[fusion.RequiredImage{Tag: opts.LowResTag, Date: date2}]
	if err := fusion.CheckPair(h1, l1); err != nil {
		return err
	}
	if err := fusion.CheckPair(h3, l3); err != nil {
		return err
	}
	if h1.Size() != h3.Size() || l2.Size() != h1.Size() {
		return pixel.Sizef(h3.Size(), "SPSTFM requires both pairs and the target date to share the same image shape")
	}

	bounds := pixel.Rectangle{X: 0, Y: 0, Width: h1.Width(), Height: h1.Height()}
	if bounds.Empty() {
		return pixel.Sizef(bounds, "source images are empty")
	}
	if opts.PatchSize > bounds.Width || opts.PatchSize > bounds.Height {
		return pixel.Sizef(bounds, "patch size %d exceeds image side", opts.PatchSize)
	}

	preparedMask, err := fusion.PrepareMask(mask, h1, true)
	if err != nil {
		return err
	}

	area := fusion.DefaultPredictionArea(opts.PredictionArea, h1.Size())
	sampleArea := fusion.SampleArea(area, opts.PatchSize/2, bounds)
	out := fusion.PrepareOutput(e.out, area.Size(), h1.Type())

	channels := h1.Channels()
	if len(e.dict) != channels {
		grown := make([]*Dictionary, channels)
		copy(grown, e.dict)
		e.dict = grown
	}
	e.DebugInfo = make([]ChannelDebugInfo, channels)

	trainHighDiff := diffImage(h3, h1)
	trainLowDiff := diffImage(l3, l1)
	predLowDiff1 := diffImage(l2, l1)
	predLowDiff3 := diffImage(l2, l3)

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > channels {
		threads = channels
	}
	if threads < 1 {
		threads = 1
	}

	jobs := make(chan int, channels)
	for c := 0; c < channels; c++ {
		jobs <- c
	}
	close(jobs)

	var wg sync.WaitGroup
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var rng fastrand.RNG
			for c := range jobs {
				e.processChannel(c, h1, h3, l1, l2, l3, trainHighDiff, trainLowDiff, predLowDiff1, predLowDiff3, preparedMask, sampleArea, area, bounds, out, opts, &rng)
			}
		}()
	}
	wg.Wait()

	e.out = out
	return nil
}

// diffImage returns a := b - c element-wise (always Float64, same shape as
// a/b, spec.md §4.7 "Training samples": "pair-difference images").
func diffImage(b, c pixel.Image) pixel.Image {
	size := b.Size()
	channels := b.Channels()
	out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: channels}, size)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			for ch := 0; ch < channels; ch++ {
				out.SetFloat64(x, y, ch, b.Float64At(x, y, ch)-c.Float64At(x, y, ch))
			}
		}
	}
	return out
}

// processChannel trains (or reuses) channel c's dictionary and reconstructs
// its contribution to out.
func (e *Engine) processChannel(c int, h1, h3, l1, l2, l3, trainHighDiff, trainLowDiff, predLowDiff1, predLowDiff3, mask pixel.Image, sampleArea, area, bounds pixel.Rectangle, out pixel.Image, opts Options, rng *fastrand.RNG) {
	stats := computeChannelStats(trainHighDiff, trainLowDiff, mask, c, sampleArea, opts)
	dbg := &e.DebugInfo[c]
	dbg.BestShotIter = -1

	var dict *Dictionary
	if opts.DictionaryReuse == DictionaryUse && e.dict[c] != nil {
		dict = e.dict[c]
	} else {
		normHigh := normalizedView(trainHighDiff, c, stats.meanH, stats.scaleH)
		normLow := normalizedView(trainLowDiff, c, stats.meanL, stats.scaleL)
		samples := gatherSamples(normHigh, normLow, mask, 0, sampleArea, opts, rng)

		if opts.DictionaryReuse == DictionaryImprove && e.dict[c] != nil {
			dict = e.dict[c]
		} else {
			dict = initDictionaryFromSamples(samples.Train, opts.PatchSize, opts.DictionarySize)
			normalizeDictionary(dict, nil, opts.DictInitNorm)
		}
		trainDictionary(dict, samples, opts, dbg)
		e.dict[c] = dict
	}

	reconstructChannel(dict, stats, h1, h3, l1, l2, l3, predLowDiff1, predLowDiff3, mask, area, bounds, out, c, opts)
}

// computeChannelStats derives the mean/scale normalization factors from the
// pair-difference images over sampleArea (spec.md §4.7 "Normalization").
func computeChannelStats(highDiff, lowDiff, mask pixel.Image, channel int, sampleArea pixel.Rectangle, opts Options) channelStats {
	highVals := collectValues(highDiff, mask, channel, sampleArea)
	lowVals := collectValues(lowDiff, mask, channel, sampleArea)
	meanHigh, meanLow := meanOf(highVals), meanOf(lowVals)

	stats := channelStats{scaleH: 1, scaleL: 1}
	switch opts.SubtractMean {
	case NormalizeHigh:
		stats.meanH, stats.meanL = meanHigh, meanHigh
	case NormalizeLow:
		stats.meanH, stats.meanL = meanLow, meanLow
	case NormalizeSeparate:
		stats.meanH, stats.meanL = meanHigh, meanLow
	}

	scaleOf := func(vals []float64, mean float64) float64 {
		if opts.UseStdDev {
			s := stdDevOf(vals, mean)
			if s == 0 {
				return 1
			}
			return s
		}
		s := stdDevOf(vals, mean)
		v := s * s
		if v == 0 {
			return 1
		}
		return v
	}
	switch opts.DivideNormalizer {
	case NormalizeHigh:
		f := scaleOf(highVals, meanHigh)
		stats.scaleH, stats.scaleL = f, f
	case NormalizeLow:
		f := scaleOf(lowVals, meanLow)
		stats.scaleH, stats.scaleL = f, f
	case NormalizeSeparate:
		stats.scaleH = scaleOf(highVals, meanHigh)
		stats.scaleL = scaleOf(lowVals, meanLow)
	}
	return stats
}

func collectValues(img, mask pixel.Image, channel int, area pixel.Rectangle) []float64 {
	var vals []float64
	for y := area.Y; y < area.Bottom(); y++ {
		for x := area.X; x < area.Right(); x++ {
			if !mask.Empty() && !mask.BoolAt(x, y, 0) {
				continue
			}
			vals = append(vals, img.Float64At(x, y, channel))
		}
	}
	return vals
}

// normalizedView returns a single-channel Float64 image holding
// (img[...,channel] - mean) / scale, so it can be fed through the same
// channel-0 patch-extraction path as every other single-channel buffer.
func normalizedView(img pixel.Image, channel int, mean, scale float64) pixel.Image {
	size := img.Size()
	out := pixel.New(pixel.FullType{Base: pixel.Float64, Channels: 1}, size)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			out.SetFloat64(x, y, 0, (img.Float64At(x, y, channel)-mean)/scale)
		}
	}
	return out
}

// trainDictionary runs the K-SVD/GPSR training loop for up to
// opts.MaxTrainIter iterations (spec.md §4.7 "Training loop"), recording
// each iteration's stop metric into dbg.
func trainDictionary(dict *Dictionary, samples trainingSet, opts Options, dbg *ChannelDebugInfo) {
	_, n := samples.Train.Dims()
	if n == 0 {
		return
	}
	coeff := mat.NewDense(dict.Atoms(), n, nil)

	var best *Dictionary
	bestErr := math.Inf(1)
	var prevMetric float64
	havePrev := false

	for iter := 0; iter < opts.MaxTrainIter; iter++ {
		sparseCodeAll(dict, samples.Train, coeff, opts.SparseCodeTrainResolution, opts.GPSRTraining)
		ksvdUpdate(samples.Train, dict, coeff, opts)

		metric := trainingStopMetric(dict, coeff, samples, opts)
		dbg.StopMetric = append(dbg.StopMetric, metric)
		if opts.BestShotErrorSet != BestShotNone {
			shotErr := bestShotMetric(dict, coeff, samples, opts)
			if shotErr < bestErr {
				bestErr = shotErr
				snapshot := *dict
				cloned := mat.NewDense(0, 0, nil)
				cloned.CloneFrom(dict.D)
				snapshot.D = cloned
				best = &snapshot
				dbg.BestShotIter = iter
				dbg.BestShotError = shotErr
			}
		}

		if iter+1 >= opts.MinTrainIter && havePrev && stopConditionMet(prevMetric, metric, opts.StopCondition, opts.StopTolerance) {
			prevMetric = metric
			break
		}
		prevMetric = metric
		havePrev = true
	}

	if best != nil {
		dict.D = best.D
	}
}

// sparseCodeAll fills coeff's columns with GPSR sparse codes for every
// sample column, against the dictionary view chosen by res.
func sparseCodeAll(dict *Dictionary, samples *mat.Dense, coeff *mat.Dense, res TrainingResolution, gpsrOpts GPSROptions) {
	rows, n := samples.Dims()
	half := rows / 2
	lowDict, highDict := denseOf(dict.Low()), denseOf(dict.High())
	for col := 0; col < n; col++ {
		y := mat.Col(nil, col, samples)
		lambda := sparseCode(dict.D, lowDict, highDict, y, half, res, gpsrOpts)
		for k, v := range lambda {
			coeff.Set(k, col, v)
		}
	}
}

// sparseCode finds the sparse code for one sample vector y (length 2*half)
// against the dictionary, using the resolution res selects (spec.md §4.7
// "Training loop" step 1).
func sparseCode(concatDict, lowDict, highDict *mat.Dense, y []float64, half int, res TrainingResolution, gpsrOpts GPSROptions) []float64 {
	switch res {
	case ResolutionHigh:
		return gpsrSolve(highDict, y[:half], gpsrOpts)
	case ResolutionConcat:
		return gpsrSolve(concatDict, y, gpsrOpts)
	case ResolutionAverage:
		lowCode := gpsrSolve(lowDict, y[half:], gpsrOpts)
		highCode := gpsrSolve(highDict, y[:half], gpsrOpts)
		avg := make([]float64, len(lowCode))
		for i := range avg {
			avg[i] = (lowCode[i] + highCode[i]) / 2
		}
		return avg
	default: // ResolutionLow
		return gpsrSolve(lowDict, y[half:], gpsrOpts)
	}
}

func denseOf(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	rows, cols := m.Dims()
	d := mat.NewDense(rows, cols, nil)
	d.Copy(m)
	return d
}

// trainingStopMetric evaluates opts.StopFunction for the current dictionary
// state (spec.md §4.7 "Training loop" step 3).
func trainingStopMetric(dict *Dictionary, coeff *mat.Dense, samples trainingSet, opts Options) float64 {
	switch opts.StopFunction {
	case StopTrainSetError:
		return reconstructionError(dict, samples.Train, opts)
	case StopTestSetError:
		if samples.Test == nil {
			return reconstructionError(dict, samples.Train, opts)
		}
		return reconstructionError(dict, samples.Test, opts)
	case StopObjectiveMaxTau:
		return objectiveValue(dict, coeff, samples.Train, opts.GPSRTraining.Tau, true)
	default:
		return objectiveValue(dict, coeff, samples.Train, opts.GPSRTraining.Tau, false)
	}
}

func bestShotMetric(dict *Dictionary, coeff *mat.Dense, samples trainingSet, opts Options) float64 {
	if opts.BestShotErrorSet == BestShotTestSet && samples.Test != nil {
		return reconstructionError(dict, samples.Test, opts)
	}
	return reconstructionError(dict, samples.Train, opts)
}

// objectiveValue computes the SPSTFM training objective
// (||P - D*Lambda||_F^2 + tau-weighted L1 norm) / (N*n) (spec.md §4.7
// dbg_recordTrainingStopFunctions formulas, carried into the stop
// criterion).
func objectiveValue(dict *Dictionary, coeff *mat.Dense, samples *mat.Dense, tau float64, maxTau bool) float64 {
	rows, n := samples.Dims()
	if n == 0 {
		return 0
	}
	recon := mat.NewDense(rows, n, nil)
	recon.Mul(dict.D, coeff)
	sq := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < n; j++ {
			d := samples.At(i, j) - recon.At(i, j)
			sq += d * d
		}
	}
	l1 := 0.0
	m, _ := coeff.Dims()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			l1 += math.Abs(coeff.At(i, j))
		}
	}
	_ = maxTau // both branches use the same fixed tau here; per-column tau is not tracked separately
	return (sq + tau*l1) / float64(n*rows)
}

// reconstructionError predicts each sample's high-resolution half from its
// low-resolution half via GPSR against D_L and D_H, compares against the
// true high-resolution half (spec.md §4.7 test_set_error / train_set_error).
func reconstructionError(dict *Dictionary, samples *mat.Dense, opts Options) float64 {
	rows, n := samples.Dims()
	if n == 0 {
		return 0
	}
	half := rows / 2
	lowDict := denseOf(dict.Low())
	highDict := denseOf(dict.High())
	sum := 0.0
	for col := 0; col < n; col++ {
		y := mat.Col(nil, col, samples)
		lambda := gpsrSolve(lowDict, y[half:], opts.GPSRReconstruction)
		predictedHigh := mat.NewVecDense(half, nil)
		predictedHigh.MulVec(highDict, mat.NewVecDense(len(lambda), lambda))
		for i := 0; i < half; i++ {
			sum += math.Abs(y[i] - predictedHigh.AtVec(i))
		}
	}
	return sum / float64(n*half)
}

// reconstructChannel predicts channel's contribution to out over area by
// sparse-coding each low-resolution difference patch against dict.Low(),
// reconstructing the corresponding high-resolution difference via
// dict.High(), and combining the two pair predictions with change-based
// weights (spec.md §4.7 "Reconstruction").
func reconstructChannel(dict *Dictionary, stats channelStats, h1, h3, l1, l2, l3, predLowDiff1, predLowDiff3, mask pixel.Image, area, bounds pixel.Rectangle, out pixel.Image, channel int, opts Options) {
	patchSize := opts.PatchSize
	lowDict := denseOf(dict.Low())
	highDict := denseOf(dict.High())
	n := patchSize * patchSize

	positions := patchGrid(area, patchSize, opts.PatchOverlap)
	recon := newReconstructor(area.Size())

	buiV1, buiV3 := buiWeights(l1, l2, l3, positions, patchSize, opts)

	for idx, pos := range positions {
		lp1, err1 := ExtractPatch(predLowDiff1, pos.x, pos.y, patchSize, channel)
		lp3, err3 := ExtractPatch(predLowDiff3, pos.x, pos.y, patchSize, channel)
		if err1 != nil || err3 != nil {
			continue
		}
		hp1, _ := ExtractPatch(h1, pos.x, pos.y, patchSize, channel)
		hp3, _ := ExtractPatch(h3, pos.x, pos.y, patchSize, channel)

		recon1 := reconstructPatch(lowDict, highDict, lp1, hp1, stats, n, opts.GPSRReconstruction)
		recon3 := reconstructPatch(lowDict, highDict, lp3, hp3, stats, n, opts.GPSRReconstruction)

		var v1, v3 float64
		if buiV1 != nil {
			v1, v3 = buiV1[idx], buiV3[idx]
		} else {
			v1, v3 = meanAbs(lp1), meanAbs(lp3)
		}
		w1, w3 := combinationWeights(v1, v3, opts.WeightsDiffTol)

		combined := make(Patch, n)
		for i := 0; i < n; i++ {
			combined[i] = w1*recon1[i] + w3*recon3[i]
		}
		recon.add(pos.x-area.X, pos.y-area.Y, patchSize, combined)
	}

	recon.writeTo(out, mask, area.X, area.Y, channel)
}

// reconstructPatch sparse-codes lowDiffPatch (normalized) against lowDict,
// projects the code through highDict, un-normalizes the predicted
// high-resolution difference, and adds it back onto the reference
// high-resolution patch (spec.md §4.7 "Reconstruction" steps 1-3).
func reconstructPatch(lowDict, highDict *mat.Dense, lowDiffPatch, refHighPatch Patch, stats channelStats, n int, gpsrOpts GPSROptions) Patch {
	normalizedLow := make([]float64, n)
	for i, v := range lowDiffPatch {
		normalizedLow[i] = (v - stats.meanL) / stats.scaleL
	}
	lambda := gpsrSolve(lowDict, normalizedLow, gpsrOpts)

	predictedHigh := mat.NewVecDense(n, nil)
	predictedHigh.MulVec(highDict, mat.NewVecDense(len(lambda), lambda))

	out := make(Patch, n)
	for i := 0; i < n; i++ {
		diff := predictedHigh.AtVec(i)*stats.scaleH + stats.meanH
		out[i] = refHighPatch[i] + diff
	}
	return out
}

func meanAbs(p Patch) float64 {
	sum := 0.0
	for _, v := range p {
		sum += math.Abs(v)
	}
	return sum / float64(len(p))
}

// combinationWeights implements spec.md §4.7's v1/v3 combination rule:
// the pair with the smaller change dominates once the two differ by more
// than diffTol; otherwise each weight is proportional to the other pair's
// change (more change there means less trust), and the degenerate
// zero-change case splits evenly.
func combinationWeights(v1, v3, diffTol float64) (w1, w3 float64) {
	if math.Abs(v1-v3) > diffTol {
		if v1 < v3 {
			return 1, 0
		}
		return 0, 1
	}
	if v1 == 0 && v3 == 0 {
		return 0.5, 0.5
	}
	return v3 / (v1 + v3), v1 / (v1 + v3)
}

// buiWeights computes the alternative v1/v3 weighting input from a
// build-up-index change between date2 and each pair date, shared across
// every channel's reconstruction since it does not depend on the channel
// being fused (spec.md §4.7 "BUI alternative weighting"). Returns nil, nil
// when opts.BUIChannels is unset.
func buiWeights(l1, l2, l3 pixel.Image, positions []patchPos, patchSize int, opts Options) (v1, v3 []float64) {
	if opts.BUIChannels == nil {
		return nil, nil
	}
	nir, swir := opts.BUIChannels[1], opts.BUIChannels[2]
	bui := func(img pixel.Image, x, y int) float64 {
		n, s := img.Float64At(x, y, nir), img.Float64At(x, y, swir)
		if n+s == 0 {
			return 0
		}
		return (s - n) / (s + n)
	}
	v1 = make([]float64, len(positions))
	v3 = make([]float64, len(positions))
	for idx, pos := range positions {
		sum1, sum3 := 0.0, 0.0
		for dy := 0; dy < patchSize; dy++ {
			for dx := 0; dx < patchSize; dx++ {
				x, okx := mirrorIndex(pos.x+dx, l2.Width())
				y, oky := mirrorIndex(pos.y+dy, l2.Height())
				if !okx || !oky {
					continue
				}
				bui2 := bui(l2, x, y)
				sum1 += math.Abs(bui2 - bui(l1, x, y))
				sum3 += math.Abs(bui2 - bui(l3, x, y))
			}
		}
		v1[idx] = sum1 / float64(patchSize*patchSize)
		v3[idx] = sum3 / float64(patchSize*patchSize)
	}
	return v1, v3
}

func stopConditionMet(prev, cur float64, cond StopCondition, tol float64) bool {
	switch cond {
	case StopValLess:
		return cur < tol
	case StopAbsChangeLess:
		return math.Abs(prev-cur) < tol
	case StopAbsRelChangeLess:
		return math.Abs(prev-cur)/math.Max(math.Abs(prev), 1e-300) < tol
	case StopRelChangeLess:
		return (prev-cur)/math.Max(math.Abs(prev), 1e-300) < tol
	default: // StopChangeLess
		return prev-cur < tol
	}
}
