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

	"github.com/mlnoga/imagefusion/internal/logx"
	"gonum.org/v1/gonum/mat"
)

const (
	alphaMin = 1e-30
	alphaMax = 1e30
)

// gpsrSolve finds a sparse code lambda minimizing
// 1/2*||y - D*lambda||^2 + tau*||lambda||_1
// via gradient projection with Barzilai-Borwein step selection (spec.md
// §4.7 "Sparse coding (GPSR-BB)"). D has one atom per column; y has the
// same row count as D.
func gpsrSolve(d *mat.Dense, y []float64, opts GPSROptions) []float64 {
	if opts.Continuation {
		warm := opts
		warm.Continuation = false
		warm.Tau = effectiveTau(d, y, opts.Tau) * 2
		warm.TolA = opts.TolA * 10
		warmStart := gpsrRun(d, y, warm, nil)
		return gpsrRun(d, y, withTau(opts, effectiveTau(d, y, opts.Tau)), warmStart)
	}
	return gpsrRun(d, y, withTau(opts, effectiveTau(d, y, opts.Tau)), nil)
}

func withTau(o GPSROptions, tau float64) GPSROptions { o.Tau = tau; return o }

// effectiveTau resolves tau <= 0 to 0.1*||D^T y||_inf (spec.md §4.7 "Default
// tau").
func effectiveTau(d *mat.Dense, y []float64, tau float64) float64 {
	if tau > 0 {
		return tau
	}
	_, m := d.Dims()
	aty := mat.NewVecDense(m, nil)
	aty.MulVec(d.T(), mat.NewVecDense(len(y), y))
	maxAbs := 0.0
	for i := 0; i < m; i++ {
		if v := math.Abs(aty.AtVec(i)); v > maxAbs {
			maxAbs = v
		}
	}
	return 0.1 * maxAbs
}

// gpsrRun executes one main-loop pass of GPSR-BB at a fixed tau/tolA,
// optionally warm-started from a previous lambda, then runs the optional
// conjugate-gradient debiasing pass.
func gpsrRun(d *mat.Dense, y []float64, opts GPSROptions, warmStart []float64) []float64 {
	rows, m := d.Dims()
	yVec := mat.NewVecDense(rows, y)

	u := make([]float64, m)
	v := make([]float64, m)
	if warmStart != nil {
		for i, x := range warmStart {
			if x > 0 {
				u[i] = x
			} else {
				v[i] = -x
			}
		}
	} else {
		aty := mat.NewVecDense(m, nil)
		aty.MulVec(d.T(), yVec)
		for i := 0; i < m; i++ {
			x := aty.AtVec(i)
			if x > 0 {
				u[i] = x
			} else {
				v[i] = -x
			}
		}
	}

	lambda := func() []float64 {
		l := make([]float64, m)
		for i := range l {
			l[i] = u[i] - v[i]
		}
		return l
	}
	residual := func(l []float64) *mat.VecDense {
		r := mat.NewVecDense(rows, nil)
		r.MulVec(d, mat.NewVecDense(m, l))
		r.SubVec(r, yVec)
		return r
	}
	objective := func(l []float64, r *mat.VecDense) float64 {
		sq := 0.0
		for i := 0; i < rows; i++ {
			sq += r.AtVec(i) * r.AtVec(i)
		}
		l1 := 0.0
		for _, x := range l {
			l1 += math.Abs(x)
		}
		return 0.5*sq + opts.Tau*l1
	}

	alpha := 1.0
	l := lambda()
	r := residual(l)
	f := objective(l, r)

	for iter := 0; iter < opts.MaxIterA; iter++ {
		atr := mat.NewVecDense(m, nil)
		atr.MulVec(d.T(), r)

		du := make([]float64, m)
		dv := make([]float64, m)
		for i := 0; i < m; i++ {
			gu := opts.Tau + atr.AtVec(i)
			gv := opts.Tau - atr.AtVec(i)
			du[i] = math.Max(u[i]-alpha*gu, 0) - u[i]
			dv[i] = math.Max(v[i]-alpha*gv, 0) - v[i]
		}
		dl := make([]float64, m)
		for i := range dl {
			dl[i] = du[i] - dv[i]
		}

		adl := mat.NewVecDense(rows, nil)
		adl.MulVec(d, mat.NewVecDense(m, dl))
		dtAtAd := 0.0
		for i := 0; i < rows; i++ {
			dtAtAd += adl.AtVec(i) * adl.AtVec(i)
		}

		gd := 0.0
		for i := 0; i < m; i++ {
			gu := opts.Tau + atr.AtVec(i)
			gv := opts.Tau - atr.AtVec(i)
			gd += gu*du[i] + gv*dv[i]
		}

		step := 1.0
		if dtAtAd > 0 {
			step = -gd / dtAtAd
			if step < 0 {
				// numerical anomaly: the direction is not a descent direction.
				// spec.md §4.7 "Failure": reported as a non-fatal warning, step
				// reset to 1.
				logx.Warnf("spstfm: GPSR step length negative (%.3g), resetting to 1", step)
				step = 1
			}
			if step > 1 {
				step = 1
			}
		}

		for i := 0; i < m; i++ {
			u[i] += step * du[i]
			v[i] += step * dv[i]
		}

		if dtAtAd > 0 {
			dNormSq := 0.0
			for i := range dl {
				dNormSq += dl[i] * dl[i]
			}
			if dtAtAd > 0 {
				alpha = dNormSq / dtAtAd
			}
			if alpha < alphaMin || math.IsNaN(alpha) {
				alpha = alphaMin
			}
			if alpha > alphaMax {
				alpha = alphaMax
			}
		} else {
			alpha = alphaMax
		}

		l = lambda()
		r = residual(l)
		fNew := objective(l, r)
		relChange := math.Abs(fNew-f) / math.Max(math.Abs(f), 1e-300)
		f = fNew
		if iter+1 >= opts.MinIterA && relChange < opts.TolA {
			break
		}
	}

	if opts.Debias {
		l = gpsrDebias(d, y, l, opts)
	}
	return l
}

// gpsrDebias runs conjugate gradients on the least-squares problem
// restricted to lambda's support (spec.md §4.7 "Optional debiasing").
func gpsrDebias(d *mat.Dense, y []float64, lambda []float64, opts GPSROptions) []float64 {
	rows, _ := d.Dims()
	var support []int
	for i, x := range lambda {
		if x != 0 {
			support = append(support, i)
		}
	}
	if len(support) == 0 || len(support) > rows {
		return lambda
	}
	sub := mat.NewDense(rows, len(support), nil)
	for j, atom := range support {
		for i := 0; i < rows; i++ {
			sub.Set(i, j, d.At(i, atom))
		}
	}

	x := make([]float64, len(support))
	for j, atom := range support {
		x[j] = lambda[atom]
	}
	yVec := mat.NewVecDense(rows, y)

	// CGLS: minimize ||y - sub*x|| over x, restricted to lambda's support.
	r := mat.NewVecDense(rows, nil)
	r.MulVec(sub, mat.NewVecDense(len(support), x))
	r.SubVec(yVec, r)
	r0SqNorm := vecDot(r, r)

	s := mat.NewVecDense(len(support), nil)
	s.MulVec(sub.T(), r)
	p := mat.NewVecDense(len(support), nil)
	p.CloneFromVec(s)
	gamma := vecDot(s, s)

	for iter := 0; iter < opts.MaxIterD; iter++ {
		rSqNorm := vecDot(r, r)
		if iter+1 >= opts.MinIterD && rSqNorm < opts.TolD*math.Max(r0SqNorm, 1e-300) {
			break
		}
		if gamma <= 0 {
			break
		}
		q := mat.NewVecDense(rows, nil)
		q.MulVec(sub, p)
		qSqNorm := vecDot(q, q)
		if qSqNorm <= 0 {
			break
		}
		alpha := gamma / qSqNorm
		for j := 0; j < len(support); j++ {
			x[j] += alpha * p.AtVec(j)
		}
		r.AddScaledVec(r, -alpha, q)
		s.MulVec(sub.T(), r)
		gammaNew := vecDot(s, s)
		beta := gammaNew / math.Max(gamma, 1e-300)
		scaled := mat.NewVecDense(len(support), nil)
		scaled.ScaleVec(beta, p)
		p.AddVec(s, scaled)
		gamma = gammaNew
	}

	out := make([]float64, len(lambda))
	for j, atom := range support {
		out[atom] = x[j]
	}
	return out
}

func vecDot(a, b *mat.VecDense) float64 {
	n := a.Len()
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a.AtVec(i) * b.AtVec(i)
	}
	return sum
}
