package minimize

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/minfit/internal/objective"
)

// errCallLimit signals that an operation ran out of its objective call
// budget. Never returned to callers; it is translated into result flags.
var errCallLimit = errors.New("objective call budget exhausted")

// Hesse computes the full second-derivative matrix of the objective at the
// minimum by central finite differences and replaces the covariance carried
// by fm and its state with the inverted Hessian. A Hessian that cannot be
// inverted is forced positive definite first; failure of the forced matrix
// too is reported through HesseFailed, never as an error. Fatal evaluation
// failures are the only error path.
func Hesse(fcn *objective.Adapter, fm *FunctionMinimum, maxCalls int) error {
	st := fm.State
	free := st.FreeIndices()
	n := len(free)
	if n == 0 {
		fm.HasCovariance = false
		return nil
	}
	if maxCalls <= 0 {
		maxCalls = maxCallsHeuristic(n)
	}
	up := fcn.Up()

	ev := newEvaluator(fcn, st)
	z := st.InternalValues()
	f0, err := ev.eval(z)
	if err != nil {
		return err
	}

	steps := st.InternalSteps()
	ge := newGradientEstimator(ev, up, 2)
	_, _, gstep, err := ge.compute(z, f0, steps)
	if err != nil {
		return err
	}

	var h *mat.SymDense
	if ev.calls >= maxCalls {
		err = errCallLimit
	} else {
		h, err = internalHessian(ev, z, f0, gstep, maxCalls)
	}
	st.SetNCalls(st.NCalls() + ev.calls)
	fm.NFcn += ev.calls
	if err != nil {
		if !errors.Is(err, errCallLimit) {
			return err
		}
		fm.HasReachedCallLimit = true
		fm.HesseFailed = true
		fm.HasCovariance = false
		fm.HasPosDefCovar = false
		fm.HasAccurateCovar = false
		st.ClearCovariance()
		return nil
	}

	if h == nil {
		fm.HesseFailed = true
		fm.HasCovariance = false
		fm.HasPosDefCovar = false
		fm.HasAccurateCovar = false
		st.ClearCovariance()
		return nil
	}

	madePosDef := false
	v, ok := invertSym(h)
	if !ok {
		madePosDef = forcePosDef(h)
		if v, ok = invertSym(h); !ok {
			fm.HesseFailed = true
			fm.HasCovariance = false
			fm.HasPosDefCovar = false
			fm.HasAccurateCovar = false
			st.ClearCovariance()
			return nil
		}
	}

	// external covariance: scale the internal metric by the transform
	// Jacobian and the errordef convention
	jac := make([]float64, n)
	for k, i := range free {
		jac[k] = st.Get(i).Transform().DExtDInt(z[k])
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, 2*up*v.At(i, j)*jac[i]*jac[j])
		}
	}
	st.SetCovariance(cov)
	for k, i := range free {
		if d := cov.At(k, k); d > 0 {
			st.SetError(i, math.Sqrt(d))
		}
	}

	fm.HesseFailed = false
	fm.HasCovariance = true
	fm.HasPosDefCovar = true
	fm.HasMadePosDefCovar = fm.HasMadePosDefCovar || madePosDef
	fm.HasAccurateCovar = !madePosDef
	return nil
}

// internalHessian estimates the Hessian in internal coordinates by central
// differences: the diagonal from three-point second derivatives, the
// off-diagonal terms from the mixed cross difference
// f(z+hi+hj) - f(z+hi) - f(z+hj) + f(z). Returns nil (no error) when the
// result contains non-finite entries, errCallLimit when the call budget
// runs out mid-computation.
func internalHessian(ev *evaluator, z []float64, f0 float64, gstep []float64, maxCalls int) (*mat.SymDense, error) {
	n := len(z)
	h := mat.NewSymDense(n, nil)

	zt := make([]float64, n)
	shift := func(deltas map[int]float64) (float64, error) {
		if ev.calls >= maxCalls {
			return 0, errCallLimit
		}
		copy(zt, z)
		for i, d := range deltas {
			zt[i] += d
		}
		return ev.eval(zt)
	}

	fplus := make([]float64, n)
	for i := 0; i < n; i++ {
		hi := gstep[i]
		fp, err := shift(map[int]float64{i: hi})
		if err != nil {
			return nil, err
		}
		fm2, err := shift(map[int]float64{i: -hi})
		if err != nil {
			return nil, err
		}
		fplus[i] = fp
		h.SetSym(i, i, (fp+fm2-2*f0)/(hi*hi))
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			hi, hj := gstep[i], gstep[j]
			fij, err := shift(map[int]float64{i: hi, j: hj})
			if err != nil {
				return nil, err
			}
			h.SetSym(i, j, (fij-fplus[i]-fplus[j]+f0)/(hi*hj))
		}
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := h.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil
			}
		}
	}
	return h, nil
}
