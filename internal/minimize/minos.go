package minimize

import (
	"math"

	"github.com/cwbudde/minfit/internal/objective"
)

const (
	minosMaxBrackets = 20
	minosBracketGrow = 1.5
)

// Minos computes profile-likelihood confidence intervals. For each
// direction it scans the parameter away from the minimum, re-minimizing all
// other parameters at every point, until the objective has risen by the
// errordef, then pins the crossing down with a root finder.
type Minos struct {
	fcn      *objective.Adapter
	fm       *FunctionMinimum
	strategy int
	tol      float64
}

// NewMinos prepares a profile scanner for an existing minimum. tol <= 0
// selects DefaultTolerance for the nested minimizations.
func NewMinos(fcn *objective.Adapter, fm *FunctionMinimum, strategy int, tol float64) *Minos {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	return &Minos{fcn: fcn, fm: fm, strategy: strategy, tol: tol}
}

// Run computes the interval for parameter i at the given sigma level.
// Anomalies found during the scan (hitting a limit, exhausting the call
// budget, finding a better minimum) are reported through the result flags.
func (mn *Minos) Run(i int, sigma float64, maxCalls int) (*MinosResult, error) {
	if !mn.fm.IsValid() {
		return nil, ErrInvalidMinimum
	}
	p := mn.fm.State.Get(i)
	if p.Fixed {
		return nil, ErrFixedParameter
	}
	if sigma <= 0 {
		sigma = 1
	}
	nfree := mn.fm.State.NFree()
	if maxCalls <= 0 {
		maxCalls = maxCallsHeuristic(nfree)
	}

	// the crossing at n sigma is the errordef crossing of a scaled objective
	up := mn.fcn.Up()
	mn.fcn.SetUp(up * sigma * sigma)
	defer mn.fcn.SetUp(up)

	parab := p.Error * sigma
	if parab <= 0 {
		parab = 0.1 * sigma
	}

	res := &MinosResult{Name: p.Name, Min: p.Value}

	lo, err := mn.scanDirection(i, -1, parab, maxCalls, res)
	if err != nil {
		return nil, err
	}
	res.Lower = lo

	hi, err := mn.scanDirection(i, +1, parab, maxCalls, res)
	if err != nil {
		return nil, err
	}
	res.Upper = hi

	return res, nil
}

// scanDirection walks parameter i away from the minimum in the given
// direction until the profiled objective crosses fmin + errordef, then
// root-finds the crossing. Returns the signed distance from the minimum.
// The scan state is kept between profile points so each nested minimization
// warm-starts from its neighbor's solution.
func (mn *Minos) scanDirection(i, dir int, parab float64, maxCalls int, res *MinosResult) (float64, error) {
	st := mn.fm.State.Clone()
	st.Fix(i)

	v0 := res.Min
	upScaled := mn.fcn.Up()
	calls := 0
	newMin := false

	profile := func(v float64) (float64, error) {
		st.SetValue(i, v)
		if st.NFree() > 0 {
			mg := NewMigrad(mn.fcn, st, mn.strategy)
			budget := maxCalls - calls
			if budget < 1 {
				budget = 1
			}
			sub, err := mg.Minimize(budget, mn.tol)
			if err != nil {
				return 0, err
			}
			calls += sub.NFcn
			if sub.Fval < mn.fm.Fval {
				newMin = true
			}
			return sub.Fval - mn.fm.Fval - upScaled, nil
		}
		ev := newEvaluator(mn.fcn, st)
		f, err := ev.eval(nil)
		if err != nil {
			return 0, err
		}
		calls++
		if f < mn.fm.Fval {
			newMin = true
		}
		return f - mn.fm.Fval - upScaled, nil
	}

	setFlags := func(atLimit, atMaxFcn, valid bool) {
		if dir < 0 {
			res.AtLowerLimit = atLimit
			res.AtLowerMaxFcn = atMaxFcn
			res.LowerNewMin = newMin
			res.LowerValid = valid
		} else {
			res.AtUpperLimit = atLimit
			res.AtUpperMaxFcn = atMaxFcn
			res.UpperNewMin = newMin
			res.UpperValid = valid
		}
		res.NFcn += calls
	}

	limit, hasLimit := math.Inf(dir), false
	if dir < 0 && mn.fm.State.Get(i).HasLowerLimit {
		limit, hasLimit = mn.fm.State.Get(i).LowerLimit, true
	}
	if dir > 0 && mn.fm.State.Get(i).HasUpperLimit {
		limit, hasLimit = mn.fm.State.Get(i).UpperLimit, true
	}

	// bracket the crossing: inside the interval the profiled rise is below
	// the errordef, outside it is above
	inV, inG := v0, -upScaled
	step := parab
	var outV, outG float64
	bracketed := false
	for k := 0; k < minosMaxBrackets; k++ {
		v := v0 + float64(dir)*step
		clamped := false
		if hasLimit && (dir < 0 && v <= limit || dir > 0 && v >= limit) {
			v = limit
			clamped = true
		}
		g, err := profile(v)
		if err != nil {
			return 0, err
		}
		if g >= 0 {
			outV, outG = v, g
			bracketed = true
			break
		}
		if clamped {
			// objective never rises enough before the parameter limit
			setFlags(true, false, false)
			return limit - v0, nil
		}
		if calls >= maxCalls {
			setFlags(false, true, false)
			return v - v0, nil
		}
		inV, inG = v, g
		step *= minosBracketGrow
	}
	if !bracketed {
		setFlags(false, calls >= maxCalls, false)
		return inV - v0, nil
	}

	root, err := zeroin(profile, inV, outV, inG, outG, 0.01*parab)
	if err != nil {
		return 0, err
	}
	if calls >= maxCalls {
		setFlags(false, true, false)
		return root - v0, nil
	}

	setFlags(false, false, !newMin)
	return root - v0, nil
}
