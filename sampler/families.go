package sampler

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/petal-labs/petalinfer/core"
)

const log2Pi = 1.8378770664093453 // log(2*pi)

// NormalNormal is a dnorm prior on the mean of dnorm children, where each
// child mean is an affine function of the node.
type NormalNormal struct{}

func (NormalNormal) Name() string              { return "normal-normal" }
func (NormalNormal) Prior() string             { return "dnorm" }
func (NormalNormal) Likelihoods() []Likelihood { return []Likelihood{{Dist: "dnorm", Position: 0}} }
func (NormalNormal) Link() Link                { return LinkAffine }

// Posterior folds the children in one at a time; each contributes its
// predictive density under the posterior of the ones before it.
func (NormalNormal) Posterior(prior []core.Value, obs []Observation) (Posterior, error) {
	m, tau := prior[0].Scalar(), prior[1].Scalar()
	logML := 0.0
	for _, o := range obs {
		a, b := o.A.At(0, 0), o.B[0]
		tk := o.Params[1].Scalar()
		if tk <= 0 {
			return Posterior{}, ErrNoClosedForm
		}
		y := o.Value.Scalar()
		pred := distuv.Normal{Mu: a*m + b, Sigma: math.Sqrt(1/tk + a*a/tau)}
		logML += pred.LogProb(y)

		post := tau + tk*a*a
		m = (tau*m + tk*a*(y-b)) / post
		tau = post
	}
	return Posterior{Params: []core.Value{core.Scalar(m), core.Scalar(tau)}, LogMarginal: logML}, nil
}

// MNormalLinear is a dmnorm prior on the mean of dmnorm or dnorm children,
// where each child mean is A*x + b for fixed A and b.
type MNormalLinear struct{}

func (MNormalLinear) Name() string  { return "mnormal-linear" }
func (MNormalLinear) Prior() string { return "dmnorm" }
func (MNormalLinear) Likelihoods() []Likelihood {
	return []Likelihood{{Dist: "dmnorm", Position: 0}, {Dist: "dnorm", Position: 0}}
}
func (MNormalLinear) Link() Link { return LinkAffine }

func (MNormalLinear) Posterior(prior []core.Value, obs []Observation) (Posterior, error) {
	n := prior[0].Len()
	mean := append([]float64(nil), prior[0].Data...)
	lambda := mat.NewSymDense(n, append([]float64(nil), prior[1].Data...))

	logML := 0.0
	for _, o := range obs {
		k := len(o.B)
		lk, ok := childPrecision(o, k)
		if !ok {
			return Posterior{}, ErrNoClosedForm
		}

		var chol mat.Cholesky
		if !chol.Factorize(lambda) {
			return Posterior{}, ErrNoClosedForm
		}
		var sigma mat.SymDense
		if err := chol.InverseTo(&sigma); err != nil {
			return Posterior{}, ErrNoClosedForm
		}

		// Predictive: y ~ N(A*m + b, Lk^-1 + A Sigma A^T).
		var lkChol mat.Cholesky
		if !lkChol.Factorize(lk) {
			return Posterior{}, ErrNoClosedForm
		}
		var cov mat.SymDense
		if err := lkChol.InverseTo(&cov); err != nil {
			return Posterior{}, ErrNoClosedForm
		}
		var as mat.Dense
		as.Mul(o.A, &sigma)
		var full mat.Dense
		full.Mul(&as, o.A.T())
		s := mat.NewSymDense(k, nil)
		for i := 0; i < k; i++ {
			for j := i; j < k; j++ {
				s.SetSym(i, j, cov.At(i, j)+0.5*(full.At(i, j)+full.At(j, i)))
			}
		}
		pm := mat.NewVecDense(k, nil)
		pm.MulVec(o.A, mat.NewVecDense(n, mean))
		for i := 0; i < k; i++ {
			pm.SetVec(i, pm.AtVec(i)+o.B[i])
		}
		pred, ok := distmv.NewNormal(pm.RawVector().Data, s, nil)
		if !ok {
			return Posterior{}, ErrNoClosedForm
		}
		logML += pred.LogProb(o.Value.Data)

		// Information form: Lambda' = Lambda + A^T Lk A,
		// h' = Lambda m + A^T Lk (y - b).
		var atl mat.Dense
		atl.Mul(o.A.T(), lk)
		var upd mat.Dense
		upd.Mul(&atl, o.A)
		h := mat.NewVecDense(n, nil)
		h.MulVec(lambda, mat.NewVecDense(n, mean))
		resid := mat.NewVecDense(k, nil)
		for i := 0; i < k; i++ {
			resid.SetVec(i, o.Value.Data[i]-o.B[i])
		}
		var hk mat.VecDense
		hk.MulVec(&atl, resid)
		h.AddVec(h, &hk)

		next := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				next.SetSym(i, j, lambda.At(i, j)+0.5*(upd.At(i, j)+upd.At(j, i)))
			}
		}
		lambda = next

		var nc mat.Cholesky
		if !nc.Factorize(lambda) {
			return Posterior{}, ErrNoClosedForm
		}
		var mv mat.VecDense
		if err := nc.SolveVecTo(&mv, h); err != nil {
			return Posterior{}, ErrNoClosedForm
		}
		mean = append(mean[:0], mv.RawVector().Data...)
	}

	precData := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			precData = append(precData, lambda.At(i, j))
		}
	}
	precision := core.Value{Dim: prior[1].Dim.Clone(), Data: precData}
	return Posterior{Params: []core.Value{core.Vector(mean...), precision}, LogMarginal: logML}, nil
}

// childPrecision returns the precision of a dnorm or dmnorm child as a
// k-by-k matrix.
func childPrecision(o Observation, k int) (*mat.SymDense, bool) {
	p := o.Params[1].Data
	if o.Dist == "dnorm" {
		if k != 1 || p[0] <= 0 {
			return nil, false
		}
		return mat.NewSymDense(1, []float64{p[0]}), true
	}
	if len(p) != k*k {
		return nil, false
	}
	return mat.NewSymDense(k, append([]float64(nil), p...)), true
}

// BetaBinomial is a dbeta prior on the success probability of dbin or dbern
// children.
type BetaBinomial struct{}

func (BetaBinomial) Name() string  { return "beta-binomial" }
func (BetaBinomial) Prior() string { return "dbeta" }
func (BetaBinomial) Likelihoods() []Likelihood {
	return []Likelihood{{Dist: "dbin", Position: 0}, {Dist: "dbern", Position: 0}}
}
func (BetaBinomial) Link() Link { return LinkIdentity }

func (BetaBinomial) Posterior(prior []core.Value, obs []Observation) (Posterior, error) {
	a, b := prior[0].Scalar(), prior[1].Scalar()
	a1, b1 := a, b
	logML := 0.0
	for _, o := range obs {
		y := o.Value.Scalar()
		n := 1.0
		if o.Dist == "dbin" {
			n = o.Params[1].Scalar()
		}
		if !isCount(y) || !isCount(n) || y > n {
			return Posterior{}, ErrNoClosedForm
		}
		logML += logChoose(n, y)
		a1 += y
		b1 += n - y
	}
	logML += logBeta(a1, b1) - logBeta(a, b)
	return Posterior{Params: []core.Value{core.Scalar(a1), core.Scalar(b1)}, LogMarginal: logML}, nil
}

// GammaPoisson is a dgamma prior on the rate of dpois or dexp children,
// where each child rate is c*x for a fixed c > 0.
type GammaPoisson struct{}

func (GammaPoisson) Name() string  { return "gamma-poisson" }
func (GammaPoisson) Prior() string { return "dgamma" }
func (GammaPoisson) Likelihoods() []Likelihood {
	return []Likelihood{{Dist: "dpois", Position: 0}, {Dist: "dexp", Position: 0}}
}
func (GammaPoisson) Link() Link { return LinkScale }

func (GammaPoisson) Posterior(prior []core.Value, obs []Observation) (Posterior, error) {
	alpha, beta := prior[0].Scalar(), prior[1].Scalar()
	a1, b1 := alpha, beta
	logML := 0.0
	for _, o := range obs {
		c := o.A.At(0, 0)
		y := o.Value.Scalar()
		if c <= 0 {
			return Posterior{}, ErrNoClosedForm
		}
		switch o.Dist {
		case "dpois":
			if !isCount(y) {
				return Posterior{}, ErrNoClosedForm
			}
			lgy, _ := math.Lgamma(y + 1)
			logML += y*math.Log(c) - lgy
			a1 += y
			b1 += c
		case "dexp":
			if y < 0 {
				return Posterior{}, ErrNoClosedForm
			}
			logML += math.Log(c)
			a1++
			b1 += c * y
		}
	}
	logML += logGammaNorm(alpha, beta) - logGammaNorm(a1, b1)
	return Posterior{Params: []core.Value{core.Scalar(a1), core.Scalar(b1)}, LogMarginal: logML}, nil
}

// GammaNormalPrecision is a dgamma prior on the precision of dnorm
// children, where each child precision is c*x for a fixed c > 0.
type GammaNormalPrecision struct{}

func (GammaNormalPrecision) Name() string              { return "gamma-normal" }
func (GammaNormalPrecision) Prior() string             { return "dgamma" }
func (GammaNormalPrecision) Likelihoods() []Likelihood { return []Likelihood{{Dist: "dnorm", Position: 1}} }
func (GammaNormalPrecision) Link() Link                { return LinkScale }

func (GammaNormalPrecision) Posterior(prior []core.Value, obs []Observation) (Posterior, error) {
	alpha, beta := prior[0].Scalar(), prior[1].Scalar()
	a1, b1 := alpha, beta
	logML := 0.0
	for _, o := range obs {
		c := o.A.At(0, 0)
		if c <= 0 {
			return Posterior{}, ErrNoClosedForm
		}
		d := o.Value.Scalar() - o.Params[0].Scalar()
		logML += 0.5*math.Log(c) - 0.5*log2Pi
		a1 += 0.5
		b1 += c * d * d / 2
	}
	logML += logGammaNorm(alpha, beta) - logGammaNorm(a1, b1)
	return Posterior{Params: []core.Value{core.Scalar(a1), core.Scalar(b1)}, LogMarginal: logML}, nil
}

// logGammaNorm is log(beta^alpha / Gamma(alpha)), the log normalizing
// constant of a gamma density.
func logGammaNorm(alpha, beta float64) float64 {
	lg, _ := math.Lgamma(alpha)
	return alpha*math.Log(beta) - lg
}

func logBeta(a, b float64) float64 {
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	return la + lb - lab
}

func logChoose(n, k float64) float64 {
	ln, _ := math.Lgamma(n + 1)
	lk, _ := math.Lgamma(k + 1)
	lnk, _ := math.Lgamma(n - k + 1)
	return ln - lk - lnk
}

func isCount(x float64) bool {
	return x >= 0 && x == math.Trunc(x) && !math.IsInf(x, 0)
}
