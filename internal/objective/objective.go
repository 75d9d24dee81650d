// Package objective wraps user-supplied cost functions behind the uniform
// evaluation interface the minimizer drives. The adapter counts calls,
// carries the errordef (Up) scale and enforces the non-finite-value policy.
package objective

import (
	"fmt"
	"math"
)

// LeastSquaresUp is the errordef for a least-squares (chi-square) cost.
const LeastSquaresUp = 1.0

// LikelihoodUp is the errordef for a negative log-likelihood cost.
const LikelihoodUp = 0.5

// Func evaluates the objective at a vector of external parameter values.
type Func func(x []float64) float64

// GradFunc returns the gradient of the objective, one element per parameter.
type GradFunc func(x []float64) []float64

// ErrNonFinite is returned when the objective produces NaN or Inf while the
// throw policy is active. Use errors.Is(err, ErrNonFinite) to check.
var ErrNonFinite = &EvalError{}

// EvalError reports a non-finite objective evaluation. It aborts the
// minimization attempt that triggered it.
type EvalError struct {
	Value float64
	X     []float64
}

func (e *EvalError) Error() string {
	if e.X != nil {
		return fmt.Sprintf("objective returned non-finite value %g at %v", e.Value, e.X)
	}
	return "objective returned non-finite value"
}

func (e *EvalError) Is(target error) bool {
	_, ok := target.(*EvalError)
	return ok
}

// ErrBadErrordef is returned for a non-positive errordef.
var ErrBadErrordef = fmt.Errorf("errordef must be a positive number")

// Adapter wraps a cost function (and optional analytic gradient) behind the
// evaluation interface used by the minimizer. It is not safe for concurrent
// use; parallel fit attempts need separate adapters.
type Adapter struct {
	fn       Func
	grad     GradFunc
	up       float64
	throwNaN bool
	nfcn     int
	ngrad    int
}

// NewAdapter creates an adapter for fn with the given errordef (Up).
func NewAdapter(fn Func, up float64) (*Adapter, error) {
	if fn == nil {
		return nil, fmt.Errorf("objective function cannot be nil")
	}
	if up <= 0 {
		return nil, ErrBadErrordef
	}
	return &Adapter{fn: fn, up: up}, nil
}

// SetGradient attaches an analytic gradient function.
func (a *Adapter) SetGradient(g GradFunc) { a.grad = g }

// HasGradient reports whether an analytic gradient is available.
func (a *Adapter) HasGradient() bool { return a.grad != nil }

// SetThrowNaN sets the non-finite-value policy. When active, Eval returns an
// EvalError on NaN or Inf instead of propagating the value.
func (a *Adapter) SetThrowNaN(on bool) { a.throwNaN = on }

// Up returns the current errordef.
func (a *Adapter) Up() float64 { return a.up }

// SetUp changes the errordef. It must stay positive.
func (a *Adapter) SetUp(up float64) error {
	if up <= 0 {
		return ErrBadErrordef
	}
	a.up = up
	return nil
}

// Eval invokes the objective at x and increments the call counter.
func (a *Adapter) Eval(x []float64) (float64, error) {
	a.nfcn++
	f := a.fn(x)
	if a.throwNaN && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return f, &EvalError{Value: f, X: append([]float64(nil), x...)}
	}
	return f, nil
}

// Grad invokes the analytic gradient at x and increments the gradient
// counter. The caller must check HasGradient first.
func (a *Adapter) Grad(x []float64) ([]float64, error) {
	a.ngrad++
	g := a.grad(x)
	if len(g) != len(x) {
		return nil, fmt.Errorf("gradient returned %d elements for %d parameters", len(g), len(x))
	}
	if a.throwNaN {
		for _, gi := range g {
			if math.IsNaN(gi) || math.IsInf(gi, 0) {
				return nil, &EvalError{Value: gi, X: append([]float64(nil), x...)}
			}
		}
	}
	return g, nil
}

// NCalls returns the cumulative number of objective evaluations.
func (a *Adapter) NCalls() int { return a.nfcn }

// NGrad returns the cumulative number of gradient evaluations.
func (a *Adapter) NGrad() int { return a.ngrad }

// ResetCounters zeroes both call counters.
func (a *Adapter) ResetCounters() {
	a.nfcn = 0
	a.ngrad = 0
}
