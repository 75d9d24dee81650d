// Package param holds the ordered set of fit parameters and the
// internal/external coordinate transform for bounded parameters. A State is
// exclusively owned by whichever component currently drives the fit; callers
// that need an independent snapshot must Clone it.
package param

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidBounds is returned when a lower limit exceeds an upper limit.
// Use errors.Is(err, ErrInvalidBounds) to check for this error.
var ErrInvalidBounds = &InvalidBoundsError{}

// InvalidBoundsError reports a rejected limit configuration.
type InvalidBoundsError struct {
	Name  string
	Lower float64
	Upper float64
}

func (e *InvalidBoundsError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid bounds for %s: lower %g > upper %g", e.Name, e.Lower, e.Upper)
	}
	return "invalid bounds"
}

func (e *InvalidBoundsError) Is(target error) bool {
	_, ok := target.(*InvalidBoundsError)
	return ok
}

// ErrUnknownParameter is returned when a parameter name is not registered.
var ErrUnknownParameter = &UnknownParameterError{}

// UnknownParameterError reports a lookup of an unregistered parameter name.
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	if e.Name != "" {
		return "unknown parameter: " + e.Name
	}
	return "unknown parameter"
}

func (e *UnknownParameterError) Is(target error) bool {
	_, ok := target.(*UnknownParameterError)
	return ok
}

// Parameter is one fit variable. Value and Error are in external (user)
// units. When limits are set, the minimizer works in the transformed internal
// coordinate instead (see Transform).
type Parameter struct {
	Name          string
	Value         float64
	Error         float64
	HasLowerLimit bool
	HasUpperLimit bool
	LowerLimit    float64
	UpperLimit    float64
	Fixed         bool
}

// HasLimits reports whether any limit is configured.
func (p Parameter) HasLimits() bool {
	return p.HasLowerLimit || p.HasUpperLimit
}

// Transform returns the internal/external transform for this parameter.
func (p Parameter) Transform() Transform {
	return Transform{
		HasLower: p.HasLowerLimit,
		HasUpper: p.HasUpperLimit,
		Lower:    p.LowerLimit,
		Upper:    p.UpperLimit,
	}
}

// State is the ordered collection of parameters plus the derived quantities
// of the fit in progress: current objective value, EDM, call count and, when
// validated, the covariance matrix of the free parameters.
type State struct {
	params []Parameter
	byName map[string]int

	fval   float64
	edm    float64
	ncalls int

	cov    *mat.SymDense // free-parameter subspace, external units
	hasCov bool
}

// NewState creates an empty parameter state.
func NewState() *State {
	return &State{byName: make(map[string]int)}
}

// GuessStep returns a reasonable initial step size for a starting value,
// used when the caller did not provide one.
func GuessStep(value float64) float64 {
	if value != 0 {
		return 1e-2 * math.Abs(value)
	}
	return 1e-1
}

// Add appends a parameter with the given starting value and step size.
// A non-positive step size is replaced by GuessStep(value).
func (s *State) Add(name string, value, step float64) error {
	if name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("duplicate parameter name: %s", name)
	}
	if step <= 0 {
		step = GuessStep(value)
	}
	s.byName[name] = len(s.params)
	s.params = append(s.params, Parameter{Name: name, Value: value, Error: step})
	s.ClearCovariance()
	return nil
}

// Len returns the total number of parameters.
func (s *State) Len() int { return len(s.params) }

// NFree returns the number of non-fixed parameters.
func (s *State) NFree() int {
	n := 0
	for i := range s.params {
		if !s.params[i].Fixed {
			n++
		}
	}
	return n
}

// Get returns a copy of the parameter at index i.
func (s *State) Get(i int) Parameter { return s.params[i] }

// Index resolves a parameter name to its position.
func (s *State) Index(name string) (int, error) {
	i, ok := s.byName[name]
	if !ok {
		return 0, &UnknownParameterError{Name: name}
	}
	return i, nil
}

// Names returns the parameter names in order.
func (s *State) Names() []string {
	names := make([]string, len(s.params))
	for i := range s.params {
		names[i] = s.params[i].Name
	}
	return names
}

// Values returns a copy of the external parameter values.
func (s *State) Values() []float64 {
	vals := make([]float64, len(s.params))
	for i := range s.params {
		vals[i] = s.params[i].Value
	}
	return vals
}

// Errors returns a copy of the parameter errors (step sizes).
func (s *State) Errors() []float64 {
	errs := make([]float64, len(s.params))
	for i := range s.params {
		errs[i] = s.params[i].Error
	}
	return errs
}

// SetValue sets the external value of parameter i. Values outside the
// configured limits are clamped to the nearest bound.
func (s *State) SetValue(i int, v float64) {
	p := &s.params[i]
	p.Value = p.Transform().Clamp(v)
	s.ClearCovariance()
}

// SetError sets the error (step size) of parameter i.
func (s *State) SetError(i int, e float64) {
	s.params[i].Error = math.Abs(e)
}

// Fix marks parameter i as constant.
func (s *State) Fix(i int) {
	if !s.params[i].Fixed {
		s.params[i].Fixed = true
		s.ClearCovariance()
	}
}

// Release frees parameter i. A parameter whose lower and upper limits
// coincide stays fixed.
func (s *State) Release(i int) {
	p := &s.params[i]
	if p.HasLowerLimit && p.HasUpperLimit && p.LowerLimit == p.UpperLimit {
		return
	}
	if p.Fixed {
		p.Fixed = false
		s.ClearCovariance()
	}
}

// SetLimits configures a two-sided limit on parameter i. Equal limits force
// the parameter fixed at that value. The current value is clamped into the
// new range.
func (s *State) SetLimits(i int, lower, upper float64) error {
	p := &s.params[i]
	if lower > upper {
		return &InvalidBoundsError{Name: p.Name, Lower: lower, Upper: upper}
	}
	p.HasLowerLimit, p.HasUpperLimit = true, true
	p.LowerLimit, p.UpperLimit = lower, upper
	if lower == upper {
		p.Value = lower
		p.Fixed = true
	} else {
		p.Value = p.Transform().Clamp(p.Value)
	}
	s.ClearCovariance()
	return nil
}

// SetLowerLimit configures a one-sided lower limit on parameter i.
func (s *State) SetLowerLimit(i int, lower float64) error {
	p := &s.params[i]
	if p.HasUpperLimit && lower > p.UpperLimit {
		return &InvalidBoundsError{Name: p.Name, Lower: lower, Upper: p.UpperLimit}
	}
	p.HasLowerLimit = true
	p.LowerLimit = lower
	p.Value = p.Transform().Clamp(p.Value)
	s.ClearCovariance()
	return nil
}

// SetUpperLimit configures a one-sided upper limit on parameter i.
func (s *State) SetUpperLimit(i int, upper float64) error {
	p := &s.params[i]
	if p.HasLowerLimit && p.LowerLimit > upper {
		return &InvalidBoundsError{Name: p.Name, Lower: p.LowerLimit, Upper: upper}
	}
	p.HasUpperLimit = true
	p.UpperLimit = upper
	p.Value = p.Transform().Clamp(p.Value)
	s.ClearCovariance()
	return nil
}

// RemoveLimits drops all limits from parameter i.
func (s *State) RemoveLimits(i int) {
	p := &s.params[i]
	p.HasLowerLimit, p.HasUpperLimit = false, false
	p.LowerLimit, p.UpperLimit = 0, 0
	s.ClearCovariance()
}

// FreeIndices returns the indices of the non-fixed parameters, in order.
// The position of an index in this slice is the parameter's coordinate in
// the internal search space.
func (s *State) FreeIndices() []int {
	free := make([]int, 0, len(s.params))
	for i := range s.params {
		if !s.params[i].Fixed {
			free = append(free, i)
		}
	}
	return free
}

// InternalValues returns the internal coordinates of the free parameters.
func (s *State) InternalValues() []float64 {
	free := s.FreeIndices()
	out := make([]float64, len(free))
	for k, i := range free {
		p := s.params[i]
		out[k] = p.Transform().ToInternal(p.Value)
	}
	return out
}

// InternalSteps returns the parameter errors converted to internal
// coordinates, for use as initial finite-difference steps.
func (s *State) InternalSteps() []float64 {
	free := s.FreeIndices()
	out := make([]float64, len(free))
	for k, i := range free {
		p := s.params[i]
		tr := p.Transform()
		if !tr.Bounded() {
			out[k] = p.Error
			continue
		}
		// convert the external step through the transform by mapping both
		// edges of the one-sigma interval
		in := tr.ToInternal(p.Value)
		up := tr.ToInternal(tr.Clamp(p.Value + p.Error))
		dn := tr.ToInternal(tr.Clamp(p.Value - p.Error))
		step := math.Max(math.Abs(up-in), math.Abs(dn-in))
		if step <= 0 {
			step = 1e-3
		}
		out[k] = step
	}
	return out
}

// ApplyInternal writes the internal coordinates z of the free parameters
// back into the external values.
func (s *State) ApplyInternal(z []float64) {
	free := s.FreeIndices()
	if len(z) != len(free) {
		panic("internal coordinate dimension mismatch")
	}
	for k, i := range free {
		p := &s.params[i]
		p.Value = p.Transform().ToExternal(z[k])
	}
}

// ExternalFrom fills dst with the full external parameter vector implied by
// the internal coordinates z of the free parameters, without mutating the
// state. dst must have length Len().
func (s *State) ExternalFrom(z, dst []float64) {
	if len(dst) != len(s.params) {
		panic("external vector dimension mismatch")
	}
	k := 0
	for i := range s.params {
		p := s.params[i]
		if p.Fixed {
			dst[i] = p.Value
			continue
		}
		dst[i] = p.Transform().ToExternal(z[k])
		k++
	}
}

// Fval returns the objective value recorded for the current parameter values.
func (s *State) Fval() float64 { return s.fval }

// SetFval records the objective value for the current parameter values.
func (s *State) SetFval(f float64) { s.fval = f }

// Edm returns the recorded estimated distance to minimum.
func (s *State) Edm() float64 { return s.edm }

// SetEdm records the estimated distance to minimum.
func (s *State) SetEdm(e float64) { s.edm = e }

// NCalls returns the cumulative objective call count recorded on this state.
func (s *State) NCalls() int { return s.ncalls }

// SetNCalls records the cumulative objective call count.
func (s *State) SetNCalls(n int) { s.ncalls = n }

// SetCovariance attaches a validated covariance matrix over the free
// parameters (external units). The matrix is not copied.
func (s *State) SetCovariance(c *mat.SymDense) {
	s.cov = c
	s.hasCov = c != nil
}

// Covariance returns the free-parameter covariance matrix, if present.
func (s *State) Covariance() (*mat.SymDense, bool) {
	return s.cov, s.hasCov
}

// ClearCovariance drops the covariance matrix. Any change to values, limits
// or the fixed set invalidates it.
func (s *State) ClearCovariance() {
	s.cov = nil
	s.hasCov = false
}

// Clone returns an independent deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		params: append([]Parameter(nil), s.params...),
		byName: make(map[string]int, len(s.byName)),
		fval:   s.fval,
		edm:    s.edm,
		ncalls: s.ncalls,
		hasCov: s.hasCov,
	}
	for k, v := range s.byName {
		c.byName[k] = v
	}
	if s.cov != nil {
		n := s.cov.SymmetricDim()
		cov := mat.NewSymDense(n, nil)
		cov.CopySym(s.cov)
		c.cov = cov
	}
	return c
}
