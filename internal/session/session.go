// Package session exposes the fit engine as a stateful session object: one
// objective, one parameter state, and the migrad/hesse/minos/contour
// operations that read and update them. A Session is owned by a single
// goroutine; independent fits need independent sessions.
package session

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/minfit/internal/minimize"
	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/param"
)

// DefaultIterate is how many migrad rounds are attempted before giving up
// on an invalid minimum.
const DefaultIterate = 5

// Session ties an objective to a parameter state and carries the results of
// the operations run so far.
type Session struct {
	fcn      *objective.Adapter
	state    *param.State
	init     *param.State
	strategy int
	tol      float64

	fmin    *minimize.FunctionMinimum
	merrors map[string]*minimize.MinosResult
}

// New creates a session for fn with the given errordef (1 for least
// squares, 0.5 for negative log-likelihood).
func New(fn objective.Func, up float64) (*Session, error) {
	fcn, err := objective.NewAdapter(fn, up)
	if err != nil {
		return nil, err
	}
	return &Session{
		fcn:      fcn,
		state:    param.NewState(),
		strategy: 1,
		tol:      minimize.DefaultTolerance,
		merrors:  map[string]*minimize.MinosResult{},
	}, nil
}

// AddParameter declares a parameter with its starting value and step size.
// step <= 0 picks a heuristic step from the value.
func (s *Session) AddParameter(name string, value, step float64) error {
	if step <= 0 {
		step = param.GuessStep(value)
	}
	if err := s.state.Add(name, value, step); err != nil {
		return err
	}
	s.init = s.state.Clone()
	return nil
}

// SetGradient attaches an analytic gradient callback.
func (s *Session) SetGradient(g objective.GradFunc) { s.fcn.SetGradient(g) }

// SetThrowNaN makes non-finite objective values fatal.
func (s *Session) SetThrowNaN(on bool) { s.fcn.SetThrowNaN(on) }

// SetErrordef changes the errordef; it must stay positive.
func (s *Session) SetErrordef(up float64) error { return s.fcn.SetUp(up) }

// Errordef returns the current errordef.
func (s *Session) Errordef() float64 { return s.fcn.Up() }

// SetStrategy selects how careful the minimizer is (0, 1 or 2).
func (s *Session) SetStrategy(level int) {
	if level < 0 {
		level = 0
	}
	if level > 2 {
		level = 2
	}
	s.strategy = level
}

// Strategy returns the current strategy level.
func (s *Session) Strategy() int { return s.strategy }

// SetTolerance changes the convergence tolerance; non-positive values
// restore the default.
func (s *Session) SetTolerance(tol float64) {
	if tol <= 0 {
		tol = minimize.DefaultTolerance
	}
	s.tol = tol
}

// Tolerance returns the current convergence tolerance.
func (s *Session) Tolerance() float64 { return s.tol }

// Migrad minimizes the objective. ncall <= 0 selects the heuristic budget,
// iterate <= 0 selects DefaultIterate. When a round ends invalid but calls
// remain, the next round resumes from the final parameter values of the
// previous one. Non-convergence after all rounds is reported through the
// returned minimum's flags, not as an error.
func (s *Session) Migrad(ncall, iterate int) (*minimize.FunctionMinimum, error) {
	if iterate <= 0 {
		iterate = DefaultIterate
	}
	var fm *minimize.FunctionMinimum
	for round := 0; round < iterate; round++ {
		mg := minimize.NewMigrad(s.fcn, s.state, s.strategy)
		var err error
		fm, err = mg.Minimize(ncall, s.tol)
		if err != nil {
			return nil, err
		}
		if fm.IsValid() || fm.HasReachedCallLimit {
			break
		}
		slog.Debug("migrad round did not converge, resuming",
			"round", round+1, "edm", fm.Edm, "fval", fm.Fval)
	}
	s.fmin = fm
	s.merrors = map[string]*minimize.MinosResult{}
	return fm, nil
}

// Simplex minimizes the objective with the derivative-free simplex search.
func (s *Session) Simplex(ncall int) (*minimize.FunctionMinimum, error) {
	fm, err := minimize.NewSimplex(s.fcn, s.state).Minimize(ncall, s.tol)
	if err != nil {
		return nil, err
	}
	s.fmin = fm
	s.merrors = map[string]*minimize.MinosResult{}
	return fm, nil
}

// Hesse recomputes the covariance from a full finite-difference Hessian at
// the current parameter values. It can run without a prior Migrad; in that
// case the curvature describes the current point, whatever it is.
func (s *Session) Hesse(ncall int) error {
	fm := s.fmin
	if fm == nil {
		fm = &minimize.FunctionMinimum{
			State:              s.state,
			Up:                 s.fcn.Up(),
			Tolerance:          s.tol,
			HasValidParameters: true,
		}
	} else {
		cp := *fm
		cp.State = s.state
		fm = &cp
	}
	if err := minimize.Hesse(s.fcn, fm, ncall); err != nil {
		return err
	}
	// Hesse worked on the live state; the recorded minimum keeps a snapshot
	fm.State = s.state.Clone()
	s.fmin = fm
	return nil
}

// Minos computes profile-likelihood intervals for the named parameters, or
// for every free parameter when no names are given. Requires a valid
// minimum. Results are cached and also returned.
func (s *Session) Minos(sigma float64, ncall int, names ...string) (map[string]*minimize.MinosResult, error) {
	if s.fmin == nil {
		return nil, minimize.ErrInvalidMinimum
	}
	if len(names) == 0 {
		for _, i := range s.state.FreeIndices() {
			names = append(names, s.state.Get(i).Name)
		}
	}
	mn := minimize.NewMinos(s.fcn, s.fmin, s.strategy, s.tol)
	out := make(map[string]*minimize.MinosResult, len(names))
	for _, name := range names {
		i, err := s.state.Index(name)
		if err != nil {
			return nil, err
		}
		res, err := mn.Run(i, sigma, ncall)
		if err != nil {
			return nil, err
		}
		out[name] = res
		s.merrors[name] = res
	}
	return out, nil
}

// MErrors returns the minos intervals computed so far, keyed by parameter
// name.
func (s *Session) MErrors() map[string]*minimize.MinosResult { return s.merrors }

// Contour traces the two-parameter confidence contour of px and py at the
// given sigma level. Requires a valid minimum.
func (s *Session) Contour(px, py string, npoints int, sigma float64) (*minimize.MinosResult, *minimize.MinosResult, []minimize.ContourPoint, error) {
	if s.fmin == nil {
		return nil, nil, nil, minimize.ErrInvalidMinimum
	}
	ix, err := s.state.Index(px)
	if err != nil {
		return nil, nil, nil, err
	}
	iy, err := s.state.Index(py)
	if err != nil {
		return nil, nil, nil, err
	}
	return minimize.Contour(s.fcn, s.fmin, ix, iy, npoints, sigma, s.strategy, s.tol, 0)
}

// ProfilePoint is one grid point of a fixed-bin profile scan.
type ProfilePoint struct {
	Value float64 // scanned parameter value
	Fval  float64 // objective after re-minimizing the others
	Valid bool    // nested minimization converged
}

// Profile scans parameter name over bins equally spaced points spanning
// +-bound parabolic errors around its current value, re-minimizing the
// remaining parameters at each point. subtractMin shifts the curve so its
// smallest value is zero.
func (s *Session) Profile(name string, bins int, bound float64, subtractMin bool) ([]ProfilePoint, error) {
	i, err := s.state.Index(name)
	if err != nil {
		return nil, err
	}
	p := s.state.Get(i)
	if p.Fixed {
		return nil, minimize.ErrFixedParameter
	}
	if bins < 2 {
		bins = 30
	}
	if bound <= 0 {
		bound = 2
	}
	width := bound * p.Error
	if width <= 0 {
		width = bound * param.GuessStep(p.Value)
	}
	lo, hi := p.Value-width, p.Value+width
	if p.HasLowerLimit && lo < p.LowerLimit {
		lo = p.LowerLimit
	}
	if p.HasUpperLimit && hi > p.UpperLimit {
		hi = p.UpperLimit
	}

	st := s.state.Clone()
	st.Fix(i)

	pts := make([]ProfilePoint, bins)
	for k := 0; k < bins; k++ {
		v := lo + (hi-lo)*float64(k)/float64(bins-1)
		st.SetValue(i, v)
		pt := ProfilePoint{Value: v}
		if st.NFree() > 0 {
			fm, err := minimize.NewMigrad(s.fcn, st, s.strategy).Minimize(0, s.tol)
			if err != nil {
				return nil, err
			}
			pt.Fval = fm.Fval
			pt.Valid = fm.IsValid()
		} else {
			f, err := s.fcn.Eval(st.Values())
			if err != nil {
				return nil, err
			}
			pt.Fval = f
			pt.Valid = true
		}
		pts[k] = pt
	}

	if subtractMin {
		min := pts[0].Fval
		for _, pt := range pts[1:] {
			if pt.Fval < min {
				min = pt.Fval
			}
		}
		for k := range pts {
			pts[k].Fval -= min
		}
	}
	return pts, nil
}

// Reset restores the parameter state to its configuration right after the
// last AddParameter call and clears all results and call counters.
func (s *Session) Reset() {
	if s.init != nil {
		s.state = s.init.Clone()
	}
	s.fmin = nil
	s.merrors = map[string]*minimize.MinosResult{}
	s.fcn.ResetCounters()
}

// Fmin returns the result of the last minimization, or nil.
func (s *Session) Fmin() *minimize.FunctionMinimum { return s.fmin }

// Valid reports whether the session holds a valid minimum.
func (s *Session) Valid() bool { return s.fmin != nil && s.fmin.IsValid() }

// NFcn returns the total objective calls made through this session.
func (s *Session) NFcn() int { return s.fcn.NCalls() }

// NGrad returns the total gradient calls made through this session.
func (s *Session) NGrad() int { return s.fcn.NGrad() }

// NParams returns the number of declared parameters.
func (s *Session) NParams() int { return s.state.Len() }

// Names returns the parameter names in declaration order.
func (s *Session) Names() []string { return s.state.Names() }

// Values returns the current parameter values in declaration order.
func (s *Session) Values() []float64 { return s.state.Values() }

// Errors returns the current parameter errors in declaration order.
func (s *Session) Errors() []float64 { return s.state.Errors() }

// Value returns the current value of the named parameter.
func (s *Session) Value(name string) (float64, error) {
	i, err := s.state.Index(name)
	if err != nil {
		return 0, err
	}
	return s.state.Get(i).Value, nil
}

// Error returns the current parabolic error of the named parameter.
func (s *Session) Error(name string) (float64, error) {
	i, err := s.state.Index(name)
	if err != nil {
		return 0, err
	}
	return s.state.Get(i).Error, nil
}

// SetValue moves the named parameter, clamping into its limits.
func (s *Session) SetValue(name string, v float64) error {
	i, err := s.state.Index(name)
	if err != nil {
		return err
	}
	s.state.SetValue(i, v)
	return nil
}

// SetError sets the step size / parabolic error of the named parameter.
func (s *Session) SetError(name string, e float64) error {
	i, err := s.state.Index(name)
	if err != nil {
		return err
	}
	s.state.SetError(i, e)
	return nil
}

// SetLimits bounds the named parameter; equal limits fix it.
func (s *Session) SetLimits(name string, lower, upper float64) error {
	i, err := s.state.Index(name)
	if err != nil {
		return err
	}
	return s.state.SetLimits(i, lower, upper)
}

// Fix freezes the named parameter at its current value.
func (s *Session) Fix(name string) error {
	i, err := s.state.Index(name)
	if err != nil {
		return err
	}
	s.state.Fix(i)
	return nil
}

// Release frees the named parameter; parameters pinned by equal limits
// stay fixed.
func (s *Session) Release(name string) error {
	i, err := s.state.Index(name)
	if err != nil {
		return err
	}
	s.state.Release(i)
	return nil
}

// Fixed reports whether the named parameter is fixed.
func (s *Session) Fixed(name string) (bool, error) {
	i, err := s.state.Index(name)
	if err != nil {
		return false, err
	}
	return s.state.Get(i).Fixed, nil
}

// ErrNoCovariance is returned by covariance-derived accessors when no
// covariance is available.
var ErrNoCovariance = fmt.Errorf("no covariance available, run migrad or hesse first")

// Covariance returns the full covariance matrix over all declared
// parameters, with zero rows and columns for fixed parameters.
func (s *Session) Covariance() (*mat.SymDense, error) {
	sub, ok := s.state.Covariance()
	if !ok {
		return nil, ErrNoCovariance
	}
	free := s.state.FreeIndices()
	full := mat.NewSymDense(s.state.Len(), nil)
	for a, i := range free {
		for b, j := range free {
			if j >= i {
				full.SetSym(i, j, sub.At(a, b))
			}
		}
	}
	return full, nil
}

// Correlation returns the full correlation matrix, with zeros for fixed
// parameters.
func (s *Session) Correlation() (*mat.SymDense, error) {
	cov, err := s.Covariance()
	if err != nil {
		return nil, err
	}
	n := s.state.Len()
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		di := cov.At(i, i)
		for j := i; j < n; j++ {
			dj := cov.At(j, j)
			if di > 0 && dj > 0 {
				corr.SetSym(i, j, cov.At(i, j)/math.Sqrt(di*dj))
			}
		}
	}
	return corr, nil
}

// GlobalCC returns the global correlation coefficient of each free
// parameter: the largest correlation between it and any linear combination
// of the others.
func (s *Session) GlobalCC() (map[string]float64, error) {
	sub, ok := s.state.Covariance()
	if !ok {
		return nil, ErrNoCovariance
	}
	n := sub.SymmetricDim()
	var ch mat.Cholesky
	if !ch.Factorize(sub) {
		return nil, ErrNoCovariance
	}
	var inv mat.SymDense
	if err := ch.InverseTo(&inv); err != nil {
		return nil, ErrNoCovariance
	}
	out := make(map[string]float64, n)
	for k, i := range s.state.FreeIndices() {
		d := sub.At(k, k) * inv.At(k, k)
		rho := 0.0
		if d > 1 {
			rho = math.Sqrt(1 - 1/d)
		}
		out[s.state.Get(i).Name] = rho
	}
	return out, nil
}
