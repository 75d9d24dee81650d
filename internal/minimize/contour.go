package minimize

import (
	"log/slog"
	"math"

	"github.com/cwbudde/minfit/internal/objective"
)

// ContourPoint is one point of a two-parameter confidence contour, in
// external coordinates.
type ContourPoint struct {
	X float64
	Y float64
}

// Contour traces the confidence region boundary of parameters ix and iy at
// the given sigma level. Rays are cast from the minimum at equally spaced
// angles, scaled by the asymmetric profile errors of the two parameters;
// along each ray both parameters are fixed, the remaining ones are
// re-minimized, and the errordef crossing is root-found. Rays where no
// crossing could be bracketed are skipped, so fewer than npoints points may
// come back. The per-parameter profile results are returned alongside the
// points.
func Contour(fcn *objective.Adapter, fm *FunctionMinimum, ix, iy, npoints int, sigma float64, strategy int, tol float64, maxCalls int) (*MinosResult, *MinosResult, []ContourPoint, error) {
	if !fm.IsValid() {
		return nil, nil, nil, ErrInvalidMinimum
	}
	if fm.State.Get(ix).Fixed || fm.State.Get(iy).Fixed {
		return nil, nil, nil, ErrFixedParameter
	}
	if npoints <= 0 {
		npoints = 20
	}
	if sigma <= 0 {
		sigma = 1
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if maxCalls <= 0 {
		maxCalls = maxCallsHeuristic(fm.State.NFree()) * npoints
	}

	// asymmetric errors set the ray scale in each quadrant
	mn := NewMinos(fcn, fm, strategy, tol)
	mx, err := mn.Run(ix, sigma, maxCalls)
	if err != nil {
		return nil, nil, nil, err
	}
	my, err := mn.Run(iy, sigma, maxCalls)
	if err != nil {
		return nil, nil, nil, err
	}

	up := fcn.Up()
	fcn.SetUp(up * sigma * sigma)
	defer fcn.SetUp(up)
	upScaled := fcn.Up()

	x0 := fm.State.Get(ix).Value
	y0 := fm.State.Get(iy).Value
	calls := 0

	pts := make([]ContourPoint, 0, npoints)
	for k := 0; k < npoints; k++ {
		if calls >= maxCalls {
			slog.Warn("contour stopped early, call budget exhausted",
				"points", len(pts), "requested", npoints)
			break
		}
		theta := 2 * math.Pi * float64(k) / float64(npoints)
		dx := rayComponent(math.Cos(theta), mx.Lower, mx.Upper)
		dy := rayComponent(math.Sin(theta), my.Lower, my.Upper)

		st := fm.State.Clone()
		st.Fix(ix)
		st.Fix(iy)

		cost := func(t float64) (float64, error) {
			st.SetValue(ix, x0+t*dx)
			st.SetValue(iy, y0+t*dy)
			if st.NFree() > 0 {
				mg := NewMigrad(fcn, st, strategy)
				budget := maxCalls - calls
				if budget < 1 {
					budget = 1
				}
				sub, serr := mg.Minimize(budget, tol)
				if serr != nil {
					return 0, serr
				}
				calls += sub.NFcn
				return sub.Fval - fm.Fval - upScaled, nil
			}
			ev := newEvaluator(fcn, st)
			f, eerr := ev.eval(nil)
			if eerr != nil {
				return 0, eerr
			}
			calls++
			return f - fm.Fval - upScaled, nil
		}

		t, ok, cerr := bracketAndSolve(cost, 0.01)
		if cerr != nil {
			return nil, nil, nil, cerr
		}
		if !ok {
			slog.Warn("contour ray skipped, no crossing found",
				"angle", theta, "px", fm.State.Get(ix).Name, "py", fm.State.Get(iy).Name)
			continue
		}
		pts = append(pts, ContourPoint{X: x0 + t*dx, Y: y0 + t*dy})
	}
	return mx, my, pts, nil
}

// rayComponent scales a unit direction component by the matching one-sided
// error: the upper error for positive components, the lower for negative.
func rayComponent(c, lower, upper float64) float64 {
	if c >= 0 {
		return c * upper
	}
	return c * math.Abs(lower)
}

// bracketAndSolve expands t outward from 1 until g(t) >= 0, then root-finds
// the crossing. ok is false when no bracket was found.
func bracketAndSolve(g func(float64) (float64, error), tol float64) (float64, bool, error) {
	inT := 0.0
	inG, err := g(0)
	if err != nil {
		return 0, false, err
	}
	if inG >= 0 {
		return 0, false, nil
	}
	t := 1.0
	for k := 0; k < minosMaxBrackets; k++ {
		gv, err := g(t)
		if err != nil {
			return 0, false, err
		}
		if gv >= 0 {
			root, rerr := zeroin(g, inT, t, inG, gv, tol)
			if rerr != nil {
				return 0, false, rerr
			}
			return root, true, nil
		}
		inT, inG = t, gv
		t *= minosBracketGrow
	}
	return 0, false, nil
}
