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
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Dictionary holds one channel's jointly-trained high/low-resolution atom
// pairs (spec.md §4.7 "Patch model"). D has 2*PatchSize² rows (rows
// 0..P²-1 are the high-resolution atoms D_H, rows P²..2P²-1 are the
// low-resolution atoms D_L per spec.md §6 "File formats") and one column
// per atom.
type Dictionary struct {
	PatchSize int
	D         *mat.Dense
}

// NewDictionary allocates an uninitialized m-atom dictionary for P x P
// patches.
func NewDictionary(patchSize, m int) *Dictionary {
	return &Dictionary{PatchSize: patchSize, D: mat.NewDense(2*patchSize*patchSize, m, nil)}
}

// Atoms returns the dictionary's atom count.
func (d *Dictionary) Atoms() int {
	_, m := d.D.Dims()
	return m
}

// High returns the view over D's high-resolution rows.
func (d *Dictionary) High() mat.Matrix {
	n := d.PatchSize * d.PatchSize
	return d.D.Slice(0, n, 0, d.Atoms())
}

// Low returns the view over D's low-resolution rows.
func (d *Dictionary) Low() mat.Matrix {
	n := d.PatchSize * d.PatchSize
	rows, _ := d.D.Dims()
	return d.D.Slice(n, rows, 0, d.Atoms())
}

// MarshalBinary encodes the dictionary as patch size, row count, column
// count (int32, little-endian), followed by the concatenated matrix's
// values row-major as float64 (spec.md §6 "File formats").
func (d *Dictionary) MarshalBinary() ([]byte, error) {
	rows, cols := d.D.Dims()
	buf := make([]byte, 12+8*rows*cols)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(d.PatchSize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rows))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(cols))
	off := 12
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(d.D.At(i, j)))
			off += 8
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes a dictionary previously written by MarshalBinary.
func (d *Dictionary) UnmarshalBinary(buf []byte) error {
	if len(buf) < 12 {
		return fmt.Errorf("spstfm: dictionary buffer too short (%d bytes)", len(buf))
	}
	patchSize := int(binary.LittleEndian.Uint32(buf[0:4]))
	rows := int(binary.LittleEndian.Uint32(buf[4:8]))
	cols := int(binary.LittleEndian.Uint32(buf[8:12]))
	if rows != 2*patchSize*patchSize {
		return fmt.Errorf("spstfm: dictionary row count %d does not match patch size %d", rows, patchSize)
	}
	want := 12 + 8*rows*cols
	if len(buf) != want {
		return fmt.Errorf("spstfm: dictionary buffer length %d, want %d", len(buf), want)
	}
	data := make([]float64, rows*cols)
	off := 12
	for i := range data {
		data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	d.PatchSize = patchSize
	d.D = mat.NewDense(rows, cols, data)
	return nil
}

// initDictionaryFromSamples copies the first m columns of samples into a
// fresh dictionary (spec.md §4.7 "Dictionary initialization"). If samples
// has fewer than m columns, the remaining atoms are left at zero.
func initDictionaryFromSamples(samples *mat.Dense, patchSize, m int) *Dictionary {
	rows, n := samples.Dims()
	dict := NewDictionary(patchSize, m)
	for j := 0; j < m && j < n; j++ {
		for i := 0; i < rows; i++ {
			dict.D.Set(i, j, samples.At(i, j))
		}
	}
	return dict
}

// normalizeDictionary rescales atom columns per mode (spec.md §4.7
// "Dictionary initialization", "Dictionary update"). In fixed and pairwise
// modes coeff's corresponding rows are scaled inversely so that D*coeff
// (the reconstruction) is unchanged; independent mode does not adjust
// coeff. coeff may be nil (e.g. at initialization, before any coefficients
// exist).
func normalizeDictionary(dict *Dictionary, coeff *mat.Dense, mode DictionaryNormalization) {
	if mode == DictNormNone {
		return
	}
	n := dict.PatchSize * dict.PatchSize
	rows, m := dict.D.Dims()

	highNorm := func(k int) float64 {
		sum := 0.0
		for i := 0; i < n; i++ {
			v := dict.D.At(i, k)
			sum += v * v
		}
		return math.Sqrt(sum)
	}
	lowNorm := func(k int) float64 {
		sum := 0.0
		for i := n; i < rows; i++ {
			v := dict.D.At(i, k)
			sum += v * v
		}
		return math.Sqrt(sum)
	}

	scaleAtom := func(k int, f float64) {
		if f == 0 {
			return
		}
		for i := 0; i < rows; i++ {
			dict.D.Set(i, k, dict.D.At(i, k)/f)
		}
		if coeff != nil {
			_, cols := coeff.Dims()
			for c := 0; c < cols; c++ {
				coeff.Set(k, c, coeff.At(k, c)*f)
			}
		}
	}

	switch mode {
	case DictNormFixed:
		factor := highNorm(0)
		if factor == 0 {
			factor = 1
		}
		for k := 0; k < m; k++ {
			scaleAtom(k, factor)
		}
	case DictNormPairwise:
		for k := 0; k < m; k++ {
			f := math.Max(highNorm(k), lowNorm(k))
			if f == 0 {
				f = 1
			}
			scaleAtom(k, f)
		}
	case DictNormIndependent:
		for k := 0; k < m; k++ {
			hf, lf := highNorm(k), lowNorm(k)
			if hf == 0 {
				hf = 1
			}
			if lf == 0 {
				lf = 1
			}
			for i := 0; i < n; i++ {
				dict.D.Set(i, k, dict.D.At(i, k)/hf)
			}
			for i := n; i < rows; i++ {
				dict.D.Set(i, k, dict.D.At(i, k)/lf)
			}
			if coeff != nil {
				// independent scaling of H and L atoms can't be undone by a
				// single coefficient row; the reconstruction error this
				// introduces is absorbed by the next sparse-coding pass.
			}
		}
	}
}

// ksvdUpdate runs one dictionary-update sweep over every atom (spec.md
// §4.7 "Dictionary update (K-SVD)"), mutating dict.D and coeff in place.
func ksvdUpdate(samples *mat.Dense, dict *Dictionary, coeff *mat.Dense, opts Options) {
	m := dict.Atoms()
	for k := 0; k < m; k++ {
		switch opts.KSVDMode {
		case KSVDDouble:
			ksvdUpdateAtomDouble(k, samples, dict, coeff, opts.KSVDOnline, opts.ColumnUpdateResolution)
		default:
			ksvdUpdateAtomSingle(k, samples, dict, coeff, opts.KSVDOnline)
		}
	}
	normalizeDictionary(dict, coeff, opts.DictKSVDNorm)
}

// supportColumns returns the sample columns where atom k's coefficient row
// is non-zero.
func supportColumns(coeff *mat.Dense, k int) []int {
	_, n := coeff.Dims()
	var cols []int
	for c := 0; c < n; c++ {
		if coeff.At(k, c) != 0 {
			cols = append(cols, c)
		}
	}
	return cols
}

// residualBlock returns E_r = Y_r - D*Lambda_r + d_k*lambda_k,r (the
// samples restricted to support, with every atom's contribution removed
// except atom k's, which ksvd is about to replace), restricted to the row
// range [r0, r1).
func residualBlock(samples *mat.Dense, dict *Dictionary, coeff *mat.Dense, k int, support []int, r0, r1 int) *mat.Dense {
	totalRows, _ := dict.D.Dims()
	recon := mat.NewDense(totalRows, len(support), nil)
	sub := mat.NewDense(len(support), dict.Atoms(), nil)
	for j, c := range support {
		for a := 0; a < dict.Atoms(); a++ {
			sub.Set(j, a, coeff.At(a, c))
		}
	}
	recon.Mul(dict.D, sub.T())

	rows := r1 - r0
	e := mat.NewDense(rows, len(support), nil)
	for j, c := range support {
		for i := 0; i < rows; i++ {
			v := samples.At(r0+i, c) - recon.At(r0+i, j) + dict.D.At(r0+i, k)*coeff.At(k, c)
			e.Set(i, j, v)
		}
	}
	return e
}

func ksvdUpdateAtomSingle(k int, samples *mat.Dense, dict *Dictionary, coeff *mat.Dense, online bool) {
	support := supportColumns(coeff, k)
	if len(support) == 0 {
		return
	}
	rows, _ := dict.D.Dims()
	e := residualBlock(samples, dict, coeff, k, support, 0, rows)

	var svd mat.SVD
	if !svd.Factorize(e, mat.SVDThin) {
		return
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	u1 := mat.Col(nil, 0, &u)
	v1 := mat.Col(nil, 0, &v)
	s1 := values[0]

	for i := 0; i < rows; i++ {
		dict.D.Set(i, k, u1[i])
	}
	if online {
		for j, c := range support {
			coeff.Set(k, c, s1*v1[j])
		}
	}
}

func ksvdUpdateAtomDouble(k int, samples *mat.Dense, dict *Dictionary, coeff *mat.Dense, online bool, colRes TrainingResolution) {
	support := supportColumns(coeff, k)
	if len(support) == 0 {
		return
	}
	n := dict.PatchSize * dict.PatchSize
	rows, _ := dict.D.Dims()
	eH := residualBlock(samples, dict, coeff, k, support, 0, n)
	eL := residualBlock(samples, dict, coeff, k, support, n, rows)

	var svdH, svdL mat.SVD
	okH := svdH.Factorize(eH, mat.SVDThin)
	okL := svdL.Factorize(eL, mat.SVDThin)
	if !okH || !okL {
		return
	}
	valuesH, valuesL := svdH.Values(nil), svdL.Values(nil)
	if len(valuesH) == 0 || len(valuesL) == 0 || valuesH[0] == 0 || valuesL[0] == 0 {
		return
	}
	var uH, vH, uL, vL mat.Dense
	svdH.UTo(&uH)
	svdH.VTo(&vH)
	svdL.UTo(&uL)
	svdL.VTo(&vL)
	u1H, v1H := mat.Col(nil, 0, &uH), mat.Col(nil, 0, &vH)
	u1L, v1L := mat.Col(nil, 0, &uL), mat.Col(nil, 0, &vL)
	s1H, s1L := valuesH[0], valuesL[0]

	if dotProduct(v1H, v1L) < 0 {
		for i := range u1H {
			u1H[i] = -u1H[i]
		}
		for i := range v1H {
			v1H[i] = -v1H[i]
		}
	}

	for i := 0; i < n; i++ {
		dict.D.Set(i, k, u1H[i])
	}
	for i := 0; i < rows-n; i++ {
		dict.D.Set(n+i, k, u1L[i])
	}

	if !online {
		return
	}
	coeffH := make([]float64, len(support))
	coeffL := make([]float64, len(support))
	for j := range support {
		coeffH[j] = s1H * v1H[j]
		coeffL[j] = s1L * v1L[j]
	}
	var chosen []float64
	switch colRes {
	case ResolutionHigh:
		chosen = coeffH
	case ResolutionAverage:
		chosen = make([]float64, len(support))
		for j := range chosen {
			chosen[j] = (coeffH[j] + coeffL[j]) / 2
		}
	default: // ResolutionLow and ResolutionConcat both fall back to the low-resolution source
		chosen = coeffL
	}
	for j, c := range support {
		coeff.Set(k, c, chosen[j])
	}
}

func dotProduct(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
