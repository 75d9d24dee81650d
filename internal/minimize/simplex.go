package minimize

import (
	"math"
	"sort"

	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/param"
)

// Simplex is a Nelder-Mead minimizer over the internal coordinates. It
// needs no derivatives and produces no covariance; it is meant as a robust
// first pass before the variable-metric minimizer.
type Simplex struct {
	fcn   *objective.Adapter
	state *param.State
}

func NewSimplex(fcn *objective.Adapter, st *param.State) *Simplex {
	return &Simplex{fcn: fcn, state: st}
}

type simplexVertex struct {
	z []float64
	f float64
}

// Minimize runs the simplex search. The spread between the best and worst
// vertex serves as the EDM estimate; convergence and call-limit exits are
// reported through the result flags.
func (s *Simplex) Minimize(maxCalls int, tol float64) (*FunctionMinimum, error) {
	n := s.state.NFree()
	if maxCalls <= 0 {
		maxCalls = maxCallsHeuristic(n)
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	up := s.fcn.Up()
	edmmax := edmMax(tol, up)

	ev := newEvaluator(s.fcn, s.state)

	if n == 0 {
		f0, err := ev.eval(nil)
		if err != nil {
			return nil, err
		}
		s.state.SetFval(f0)
		s.state.SetEdm(0)
		s.state.SetNCalls(s.state.NCalls() + ev.calls)
		return &FunctionMinimum{
			State:              s.state.Clone(),
			Fval:               f0,
			Up:                 up,
			Tolerance:          tol,
			NFcn:               ev.calls,
			HasValidParameters: true,
		}, nil
	}

	z0 := s.state.InternalValues()
	steps := s.state.InternalSteps()

	verts := make([]simplexVertex, n+1)
	f0, err := ev.eval(z0)
	if err != nil {
		return nil, err
	}
	verts[0] = simplexVertex{z: append([]float64(nil), z0...), f: f0}
	for i := 0; i < n; i++ {
		z := append([]float64(nil), z0...)
		z[i] += steps[i]
		f, err := ev.eval(z)
		if err != nil {
			return nil, err
		}
		verts[i+1] = simplexVertex{z: z, f: f}
	}

	byValue := func() {
		sort.Slice(verts, func(a, b int) bool { return verts[a].f < verts[b].f })
	}
	byValue()

	edm := verts[n].f - verts[0].f
	converged := edm < edmmax
	reachedLimit := false

	for !converged && !reachedLimit {
		if ev.calls >= maxCalls {
			reachedLimit = true
			break
		}

		// centroid of all but the worst vertex
		centroid := make([]float64, n)
		for _, v := range verts[:n] {
			for i := range centroid {
				centroid[i] += v.z[i] / float64(n)
			}
		}

		point := func(coef float64) []float64 {
			z := make([]float64, n)
			for i := range z {
				z[i] = centroid[i] + coef*(verts[n].z[i]-centroid[i])
			}
			return z
		}

		zr := point(-1)
		fr, err := ev.eval(zr)
		if err != nil {
			return nil, err
		}

		switch {
		case fr < verts[0].f:
			ze := point(-2)
			fe, err := ev.eval(ze)
			if err != nil {
				return nil, err
			}
			if fe < fr {
				verts[n] = simplexVertex{z: ze, f: fe}
			} else {
				verts[n] = simplexVertex{z: zr, f: fr}
			}
		case fr < verts[n-1].f:
			verts[n] = simplexVertex{z: zr, f: fr}
		default:
			zc := point(0.5)
			fc, err := ev.eval(zc)
			if err != nil {
				return nil, err
			}
			if fc < verts[n].f {
				verts[n] = simplexVertex{z: zc, f: fc}
			} else {
				// shrink toward the best vertex
				for i := 1; i <= n; i++ {
					for j := range verts[i].z {
						verts[i].z[j] = verts[0].z[j] + 0.5*(verts[i].z[j]-verts[0].z[j])
					}
					f, err := ev.eval(verts[i].z)
					if err != nil {
						return nil, err
					}
					verts[i].f = f
				}
			}
		}

		byValue()
		edm = verts[n].f - verts[0].f
		converged = edm < edmmax
	}

	best := verts[0]
	s.state.ApplyInternal(best.z)
	s.state.SetFval(best.f)
	s.state.SetEdm(edm)
	s.state.SetNCalls(s.state.NCalls() + ev.calls)
	s.state.ClearCovariance()

	return &FunctionMinimum{
		State:               s.state.Clone(),
		Fval:                best.f,
		Edm:                 edm,
		Up:                  up,
		Tolerance:           tol,
		NFcn:                ev.calls,
		HasValidParameters:  !math.IsNaN(best.f) && !math.IsInf(best.f, 0),
		IsAboveMaxEdm:       !converged && !reachedLimit,
		HasReachedCallLimit: reachedLimit,
	}, nil
}
