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

// Package spstfm implements the SPSTFM data fusor (spec.md §4.7): a
// jointly-trained high/low-resolution dictionary pair, learned by K-SVD
// over sparse codes found with GPSR-BB, used to reconstruct a high-resolution
// difference patch from a low-resolution one. Training and reconstruction
// both parallelize across channels internally, so like fitfc.Engine it
// has no Clone/PredictArea pair and cannot satisfy tile.ParallelizableEngine.
package spstfm

import (
	"github.com/mlnoga/imagefusion/internal/fusion"
	"github.com/mlnoga/imagefusion/internal/pixel"
)

// SamplingStrategy selects how candidate training/test patch positions are
// ordered before the first NumberTrainingSamples (and NumberTestSamples) are
// kept (spec.md §4.7 "Training samples").
type SamplingStrategy int

const (
	SamplingRandom   SamplingStrategy = iota // uniform random draw
	SamplingVariance                         // sort by combined H+L stddev, descending (default)
)

// SampleNormalization selects which resolution's statistics drive mean
// subtraction / scale division of training samples (spec.md §4.7
// "Normalization").
type SampleNormalization int

const (
	NormalizeNone     SampleNormalization = iota // no normalization (default for mean)
	NormalizeHigh                                // use the high-resolution diff image's statistic
	NormalizeLow                                 // use the low-resolution diff image's statistic
	NormalizeSeparate                            // H and L each use their own statistic (default for scale)
)

// DictionaryNormalization controls atom scaling at dictionary
// initialization and after each K-SVD update (spec.md §4.7 "Dictionary
// initialization", "Dictionary update").
type DictionaryNormalization int

const (
	DictNormNone        DictionaryNormalization = iota // keep scales as sampled / as returned by SVD
	DictNormFixed                                      // divide every atom by the norm of the first high atom
	DictNormPairwise                                   // divide each H/L atom pair by the larger of the two norms
	DictNormIndependent                                // make every atom (H and L separately) unit-norm (default)
)

// DictionaryReuse controls whether Predict starts dictionary training from
// scratch or from the dictionary already held by the engine (spec.md §4.7
// "Dictionary initialization", §6 "Persistent state").
type DictionaryReuse int

const (
	DictionaryClear   DictionaryReuse = iota // fresh dictionary initialized from this call's samples (default)
	DictionaryImprove                        // start from the stored dictionary, keep training
	DictionaryUse                            // use the stored dictionary as-is, skip training entirely
)

// KSVDMode selects the dictionary-update variant (spec.md §4.7 "Dictionary
// update (K-SVD)").
type KSVDMode int

const (
	KSVDSingle KSVDMode = iota // one joint SVD over the stacked 2P² x |support| residual block (default)
	KSVDDouble                 // separate SVDs for the H and L blocks, with sign reconciliation
)

// TrainingResolution selects which half (or combination) of the
// concatenated dictionary/samples drives a computation (spec.md §4.7
// "Training loop").
type TrainingResolution int

const (
	ResolutionHigh    TrainingResolution = iota // high-resolution rows only
	ResolutionLow                               // low-resolution rows only (default for sparse coding)
	ResolutionConcat                            // the full concatenated 2P² rows
	ResolutionAverage                           // high and low computed separately, then averaged
)

// StopFunction selects the training-loop stop metric (spec.md §4.7
// "Training loop" step 3).
type StopFunction int

const (
	StopObjective       StopFunction = iota // SPSTFM objective, L1 term weighted by GPSRTraining.Tau (default)
	StopObjectiveMaxTau                     // evaluated exactly like StopObjective; no separate max-tau weighting is computed
	StopTrainSetError                       // reconstruction error on the training set
	StopTestSetError                        // reconstruction error on a held-out test set
)

// StopCondition selects how two consecutive stop-metric values are compared
// (spec.md §4.7 "Training loop" step 3).
type StopCondition int

const (
	StopValLess            StopCondition = iota // current value < tolerance
	StopAbsChangeLess                           // |prev-cur| < tolerance
	StopAbsRelChangeLess                         // |prev-cur|/|prev| < tolerance
	StopChangeLess                               // prev-cur < tolerance (default)
	StopRelChangeLess                            // (prev-cur)/prev < tolerance
)

// BestShotErrorSet selects which metric (if any) drives the best-dictionary
// snapshot/restore mechanism (spec.md §4.7 "Training loop" step 4).
type BestShotErrorSet int

const (
	BestShotNone      BestShotErrorSet = iota // use whatever the last iteration produced
	BestShotTrainSet                          // keep the snapshot with lowest training-set error (default)
	BestShotTestSet                           // keep the snapshot with lowest test-set error
)

// GPSROptions configures one run of the GPSR-BB sparse coder (spec.md §4.7
// "Sparse coding (GPSR-BB)").
type GPSROptions struct {
	TolA        float64 // main-loop relative objective tolerance (default 1e-5 reconstruction, 1e-6 training)
	MinIterA    int     // minimum main-loop iterations (default 5)
	MaxIterA    int     // maximum main-loop iterations (default 5000)
	Debias      bool    // run conjugate-gradient debiasing after the main loop (default true)
	TolD        float64 // debias residual tolerance (default 1e-1)
	MinIterD    int     // minimum debias iterations (default 1)
	MaxIterD    int     // maximum debias iterations (default 200)
	Continuation bool   // warm-start at 2*Tau, 10*TolA before the final Tau, TolA pass (default true)
	Tau         float64 // L1 weight; <= 0 selects 0.1*||D^T y||_inf (default -1, meaning "auto")
}

// DefaultReconstructionGPSROptions returns the GPSR defaults used for
// reconstruction (spec.md §4.7).
func DefaultReconstructionGPSROptions() GPSROptions {
	return GPSROptions{TolA: 1e-5, MinIterA: 5, MaxIterA: 5000, Debias: true, TolD: 1e-1, MinIterD: 1, MaxIterD: 200, Continuation: true, Tau: -1}
}

// DefaultTrainingGPSROptions returns the GPSR defaults used while training
// the dictionary: identical except a tighter TolA (spec.md §4.7).
func DefaultTrainingGPSROptions() GPSROptions {
	o := DefaultReconstructionGPSROptions()
	o.TolA = 1e-6
	return o
}

// Options configures an SPSTFM prediction (spec.md §4.7 "Options").
type Options struct {
	fusion.Common

	PatchSize    int // P, side length of a square patch (default 7)
	PatchOverlap int // O in [0, P/2], pixels shared between adjacent patches (default 2)

	NumberTrainingSamples int     // N (default 2000)
	NumberTestSamples     int     // K, 0 disables test-set-dependent stop functions
	SamplingStrategy      SamplingStrategy
	InvalidPixelTolerance float64 // fraction of a patch allowed invalid before it's excluded (default 0)

	SubtractMean     SampleNormalization // mean-subtraction mode (default NormalizeNone)
	DivideNormalizer SampleNormalization // scale-division mode (default NormalizeSeparate)
	UseStdDev        bool                // true: divide by stddev; false: by variance (default true)

	DictionarySize int                     // m, atoms in the dictionary (default 256)
	DictInitNorm   DictionaryNormalization // dictionary-initialization normalization (default DictNormIndependent)
	DictKSVDNorm   DictionaryNormalization // post-K-SVD-update normalization (default DictNormIndependent)
	DictionaryReuse DictionaryReuse

	KSVDMode                    KSVDMode
	KSVDOnline                  bool               // online mode updates coefficients for column k immediately (default true)
	SparseCodeTrainResolution   TrainingResolution // dictionary/samples used for the pre-K-SVD sparse code (default ResolutionLow)
	ColumnUpdateResolution      TrainingResolution // resolution whose coefficients K-SVD assigns back (default ResolutionLow)

	MinTrainIter int // J lower bound (default 10)
	MaxTrainIter int // J upper bound (default 20)

	StopFunction     StopFunction
	StopCondition    StopCondition
	StopTolerance    float64          // epsilon for StopCondition (default 1e-3)
	BestShotErrorSet BestShotErrorSet // default BestShotTrainSet

	WeightsDiffTol float64 // delta in the v1/v3 combination rule (default 0.2)
	BUIChannels    []int   // optional [red, nir, swir] channel indices enabling the BUI alternative weighting

	GPSRTraining       GPSROptions
	GPSRReconstruction GPSROptions

	Threads int // channel-parallel worker count for training and reconstruction (rows of a channel are processed sequentially); 0 selects runtime.NumCPU(), capped at the channel count
}

// DefaultOptions returns an Options with every SPSTFM-specific field set to
// its documented default; callers still must fill in Common.
func DefaultOptions() Options {
	return Options{
		PatchSize:                  7,
		PatchOverlap:               2,
		NumberTrainingSamples:      2000,
		SamplingStrategy:           SamplingVariance,
		InvalidPixelTolerance:      0,
		SubtractMean:               NormalizeNone,
		DivideNormalizer:           NormalizeSeparate,
		UseStdDev:                  true,
		DictionarySize:             256,
		DictInitNorm:               DictNormIndependent,
		DictKSVDNorm:               DictNormIndependent,
		DictionaryReuse:            DictionaryClear,
		KSVDMode:                   KSVDSingle,
		KSVDOnline:                 true,
		SparseCodeTrainResolution:  ResolutionLow,
		ColumnUpdateResolution:     ResolutionLow,
		MinTrainIter:               10,
		MaxTrainIter:               20,
		StopFunction:               StopObjective,
		StopCondition:              StopChangeLess,
		StopTolerance:              1e-3,
		BestShotErrorSet:           BestShotTrainSet,
		WeightsDiffTol:             0.2,
		GPSRTraining:               DefaultTrainingGPSROptions(),
		GPSRReconstruction:         DefaultReconstructionGPSROptions(),
	}
}

// Validate checks the invariants common to every engine, then SPSTFM's own
// (spec.md §4.7, §7 "invalid-argument").
func (o Options) Validate() error {
	if err := o.Common.Validate(); err != nil {
		return err
	}
	if len(o.PairDates) != 2 {
		return pixel.InvalidArgumentf(len(o.PairDates), "SPSTFM requires exactly two pair dates (d1, d3), got %d", len(o.PairDates))
	}
	if o.PatchSize < 2 {
		return pixel.InvalidArgumentf(o.PatchSize, "patch size must be >= 2")
	}
	if o.PatchOverlap < 0 || o.PatchOverlap > o.PatchSize/2 {
		return pixel.InvalidArgumentf(o.PatchOverlap, "patch overlap must be in [0, patch size/2]")
	}
	if o.NumberTrainingSamples <= 0 {
		return pixel.InvalidArgumentf(o.NumberTrainingSamples, "number of training samples must be positive")
	}
	if o.InvalidPixelTolerance < 0 || o.InvalidPixelTolerance > 1 {
		return pixel.InvalidArgumentf(o.InvalidPixelTolerance, "invalid pixel tolerance must be in [0, 1]")
	}
	if o.DictionarySize <= 0 {
		return pixel.InvalidArgumentf(o.DictionarySize, "dictionary size must be positive")
	}
	if o.MinTrainIter <= 0 || o.MaxTrainIter < o.MinTrainIter {
		return pixel.InvalidArgumentf(o.MaxTrainIter, "training iteration bounds must satisfy 0 < min <= max")
	}
	if o.GPSRTraining.TolA < 0 || o.GPSRReconstruction.TolA < 0 {
		return pixel.InvalidArgumentf(o.GPSRTraining.TolA, "GPSR main-loop tolerance must be non-negative")
	}
	if o.GPSRTraining.TolD < 0 || o.GPSRReconstruction.TolD < 0 {
		return pixel.InvalidArgumentf(o.GPSRTraining.TolD, "GPSR debias tolerance must be non-negative")
	}
	if o.BUIChannels != nil && len(o.BUIChannels) != 3 {
		return pixel.InvalidArgumentf(len(o.BUIChannels), "BUI channels must name exactly [red, nir, swir] when set")
	}
	return nil
}

// PatchStride returns the distance between adjacent patch top-left corners:
// the patch size minus its overlap.
func (o Options) PatchStride() int { return o.PatchSize - o.PatchOverlap }
