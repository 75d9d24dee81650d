package minimize

import (
	"errors"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/param"
)

// DefaultTolerance is the convergence tolerance used when the caller passes
// a non-positive value. The search stops when EDM < 0.002 * tol * errordef.
const DefaultTolerance = 0.1

// maxCallsHeuristic is the default call budget for n free parameters.
func maxCallsHeuristic(n int) int {
	return 200 + 100*n + 5*n*n
}

// Migrad is the variable-metric minimizer: a quasi-Newton search that
// maintains a running approximation V of the inverse Hessian, takes Newton
// steps -V*g refined by a parabolic line search, and updates V with a rank-2
// correction after every accepted step. The approximation is kept positive
// definite throughout; updates that would break that are rejected.
type Migrad struct {
	fcn      *objective.Adapter
	state    *param.State
	strategy int
}

// NewMigrad creates a minimizer that will mutate st in place while
// searching. Strategy 0 is fastest, 2 the most careful (see Session).
func NewMigrad(fcn *objective.Adapter, st *param.State, strategy int) *Migrad {
	return &Migrad{fcn: fcn, state: st, strategy: strategy}
}

// Minimize runs one minimization attempt. maxCalls <= 0 selects the internal
// heuristic budget; tol <= 0 selects DefaultTolerance. Non-convergence is
// reported through the returned FunctionMinimum's flags. An error is
// returned only for a fatal evaluation failure.
func (m *Migrad) Minimize(maxCalls int, tol float64) (*FunctionMinimum, error) {
	n := m.state.NFree()
	if maxCalls <= 0 {
		maxCalls = maxCallsHeuristic(n)
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	up := m.fcn.Up()
	edmmax := edmMax(tol, up)

	ev := newEvaluator(m.fcn, m.state)

	// nothing to vary: evaluate once and report a trivial minimum
	if n == 0 {
		f0, err := ev.eval(nil)
		if err != nil {
			return nil, err
		}
		m.state.SetFval(f0)
		m.state.SetEdm(0)
		m.state.SetNCalls(m.state.NCalls() + ev.calls)
		return &FunctionMinimum{
			State:              m.state.Clone(),
			Fval:               f0,
			Up:                 up,
			Tolerance:          tol,
			NFcn:               ev.calls,
			HasValidParameters: true,
		}, nil
	}

	z := m.state.InternalValues()
	steps := m.state.InternalSteps()

	f0, err := ev.eval(z)
	if err != nil {
		return nil, err
	}

	ge := newGradientEstimator(ev, up, m.strategy)
	g, g2, gstep, err := m.gradientAt(ge, z, f0, steps, true)
	if err != nil {
		return nil, err
	}

	v := seedErrorMatrix(g2, gstep)
	madePosDef := false
	converged := false
	reachedLimit := false
	hesseRefined := false
	seedOnly := true

	edm := 0.5 * quadForm(v, g)
	if edm < edmmax {
		// already inside the convergence region: the diagonal seed carries
		// no correlations, so derive the metric from a full Hessian before
		// attaching it as a covariance
		hesseRefined = true
		h, herr := internalHessian(ev, z, f0, gstep, maxCalls)
		switch {
		case herr != nil && !errors.Is(herr, errCallLimit):
			return nil, herr
		case herr != nil:
			reachedLimit = true
		case h != nil:
			if inv, ok := invertSym(h); ok {
				v = inv
				seedOnly = false
				edm = 0.5 * quadForm(v, g)
			}
		}
		if !reachedLimit && edm < edmmax {
			converged = true
		}
	}

	for !converged {
		if ev.calls >= maxCalls {
			reachedLimit = true
			break
		}

		// Newton direction from the current metric
		d := symMulVec(v, g)
		for i := range d {
			d[i] = -d[i]
		}
		gdel := floats.Dot(d, g)
		if gdel >= 0 {
			// metric lost positive definiteness, repair and retry once
			forcePosDef(v)
			madePosDef = true
			d = symMulVec(v, g)
			for i := range d {
				d[i] = -d[i]
			}
			if gdel = floats.Dot(d, g); gdel >= 0 {
				break
			}
		}

		lam, f1, lerr := lineSearch(ev, z, d, f0, gdel)
		if lerr != nil {
			return nil, lerr
		}
		if lam == 0 || f1 >= f0 {
			// no progress along the line; trust the EDM to classify the exit
			converged = edm < 10*edmmax
			break
		}

		znew := make([]float64, n)
		for i := range z {
			znew[i] = z[i] + lam*d[i]
		}

		gnew, _, gstepNew, gerr := m.gradientAt(ge, znew, f1, gstep, false)
		if gerr != nil {
			return nil, gerr
		}

		// rank-2 metric update; skipped when the curvature condition fails
		// so the metric stays positive definite
		delta := make([]float64, n)
		gamma := make([]float64, n)
		for i := range z {
			delta[i] = znew[i] - z[i]
			gamma[i] = gnew[i] - g[i]
		}
		if dgam := floats.Dot(delta, gamma); dgam > 0 {
			vg := symMulVec(v, gamma)
			gvg := floats.Dot(gamma, vg)
			if gvg > 0 {
				for i := 0; i < n; i++ {
					for j := i; j < n; j++ {
						upd := delta[i]*delta[j]/dgam - vg[i]*vg[j]/gvg
						v.SetSym(i, j, v.At(i, j)+upd)
					}
				}
				seedOnly = false
			}
		}

		z, f0, g, gstep = znew, f1, gnew, gstepNew

		edm = 0.5 * quadForm(v, g)
		if edm < 0 {
			forcePosDef(v)
			madePosDef = true
			edm = 0.5 * quadForm(v, g)
			if edm < 0 {
				break
			}
		}

		if edm < edmmax {
			// careful strategy re-derives the metric from a full Hessian
			// before accepting convergence
			if m.strategy >= 2 && !hesseRefined {
				hesseRefined = true
				h, herr := internalHessian(ev, z, f0, gstep, maxCalls)
				if herr != nil && !errors.Is(herr, errCallLimit) {
					return nil, herr
				}
				if herr == nil && h != nil {
					if inv, ok := invertSym(h); ok {
						v = inv
						seedOnly = false
						edm = 0.5 * quadForm(v, g)
						if edm >= edmmax {
							continue
						}
					}
				}
			}
			converged = true
		}
	}

	m.state.ApplyInternal(z)
	m.state.SetFval(f0)
	m.state.SetEdm(edm)
	m.state.SetNCalls(m.state.NCalls() + ev.calls)

	posDef := isPosDef(v)
	if posDef {
		m.attachCovariance(v, z, up)
	} else {
		m.state.ClearCovariance()
	}

	fm := &FunctionMinimum{
		State:               m.state.Clone(),
		Fval:                f0,
		Edm:                 edm,
		Up:                  up,
		Tolerance:           tol,
		NFcn:                ev.calls,
		HasValidParameters:  !math.IsNaN(f0) && !math.IsInf(f0, 0),
		HasCovariance:       posDef,
		HasPosDefCovar:      posDef,
		HasMadePosDefCovar:  madePosDef,
		HasAccurateCovar:    posDef && !madePosDef && !seedOnly,
		IsAboveMaxEdm:       !converged && !reachedLimit,
		HasReachedCallLimit: reachedLimit,
	}
	return fm, nil
}

// gradientAt computes the internal-space gradient, preferring the analytic
// gradient when the objective carries one. Finite differences are still
// needed on the seed call for the curvature diagonal, and with strategy >= 1
// the analytic gradient is cross-checked against the numerical estimate;
// otherwise the analytic path skips them entirely.
func (m *Migrad) gradientAt(ge *gradientEstimator, z []float64, f0 float64, steps []float64, seed bool) (g, g2, gstep []float64, err error) {
	if !m.fcn.HasGradient() {
		return ge.compute(z, f0, steps)
	}

	ext := make([]float64, m.state.Len())
	m.state.ExternalFrom(z, ext)
	gext, gerr := m.fcn.Grad(ext)
	if gerr != nil {
		return nil, nil, nil, gerr
	}

	free := m.state.FreeIndices()
	g = make([]float64, len(free))
	for k, i := range free {
		g[k] = gext[i] * m.state.Get(i).Transform().DExtDInt(z[k])
	}

	if !seed && m.strategy < 1 {
		return g, nil, steps, nil
	}

	// curvature seed still comes from finite differences
	gnum, g2, gstep, nerr := ge.compute(z, f0, steps)
	if nerr != nil {
		return nil, nil, nil, nerr
	}
	if m.strategy >= 1 {
		for k := range g {
			scale := abs(gnum[k]) + abs(g[k]) + 1e-8
			if abs(g[k]-gnum[k]) > 0.1*scale {
				slog.Warn("analytic gradient deviates from numerical estimate",
					"coordinate", k, "analytic", g[k], "numerical", gnum[k])
			}
		}
	}
	return g, g2, gstep, nil
}

// attachCovariance converts the internal metric to an external covariance
// matrix over the free parameters and stores it on the state, together with
// the implied one-sigma parameter errors.
func (m *Migrad) attachCovariance(v *mat.SymDense, z []float64, up float64) {
	free := m.state.FreeIndices()
	n := len(free)
	jac := make([]float64, n)
	for k, i := range free {
		jac[k] = m.state.Get(i).Transform().DExtDInt(z[k])
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, 2*up*v.At(i, j)*jac[i]*jac[j])
		}
	}
	m.state.SetCovariance(cov)
	for k, i := range free {
		if d := cov.At(k, k); d > 0 {
			m.state.SetError(i, math.Sqrt(d))
		}
	}
}

// seedErrorMatrix builds the initial inverse-Hessian approximation from the
// finite-difference curvature diagonal, falling back to the squared step
// size where the curvature estimate is unusable.
func seedErrorMatrix(g2, steps []float64) *mat.SymDense {
	n := len(g2)
	v := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		d := 0.0
		if g2[i] > 0 && !math.IsNaN(g2[i]) && !math.IsInf(g2[i], 0) {
			d = 1 / g2[i]
		} else {
			d = steps[i] * steps[i]
		}
		v.SetSym(i, i, d)
	}
	return v
}

