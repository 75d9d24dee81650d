// Package minimize implements the numerical core of the fit engine: the
// migrad variable-metric minimizer, the simplex fallback, the hesse
// covariance estimator and the minos profile-likelihood scanner. All
// algorithms work in the internal coordinates of the free parameters and
// communicate results through immutable FunctionMinimum records.
package minimize

import (
	"errors"

	"github.com/cwbudde/minfit/internal/param"
)

// ErrInvalidMinimum is returned when an operation requires a valid function
// minimum but the supplied one is invalid or absent.
var ErrInvalidMinimum = errors.New("function minimum is not valid")

// ErrFixedParameter is returned when a profile scan is requested for a fixed
// parameter.
var ErrFixedParameter = errors.New("cannot scan over a fixed parameter")

// FunctionMinimum is the immutable result of one minimization attempt.
// Non-convergence is reported through the flags, never as an error: callers
// inspect IsValid and the individual flags to decide how to proceed.
type FunctionMinimum struct {
	State     *param.State // final parameter state (snapshot)
	Fval      float64      // objective value at the final point
	Edm       float64      // estimated distance to minimum
	Up        float64      // errordef used for this attempt
	Tolerance float64      // convergence tolerance used for this attempt
	NFcn      int          // objective calls consumed by this attempt

	HasValidParameters  bool
	HasCovariance       bool
	HasAccurateCovar    bool
	HasPosDefCovar      bool
	HasMadePosDefCovar  bool
	HesseFailed         bool
	IsAboveMaxEdm       bool
	HasReachedCallLimit bool
}

// IsValid reports whether the attempt converged to a usable minimum.
func (fm *FunctionMinimum) IsValid() bool {
	return fm.HasValidParameters && !fm.IsAboveMaxEdm && !fm.HasReachedCallLimit
}

// EdmMax returns the convergence threshold this attempt was held to.
func (fm *FunctionMinimum) EdmMax() float64 {
	return edmMax(fm.Tolerance, fm.Up)
}

func edmMax(tol, up float64) float64 {
	return 0.002 * tol * up
}

// MinosResult holds the asymmetric profile-likelihood interval for one
// parameter. Lower is a negative offset and Upper a positive offset from the
// parameter value at the minimum. Anomalies during the scan are reported via
// the flags; the scan itself still completes.
type MinosResult struct {
	Name  string
	Min   float64 // parameter value at the function minimum
	Lower float64 // signed offset of the lower interval edge
	Upper float64 // signed offset of the upper interval edge

	LowerValid    bool
	UpperValid    bool
	AtLowerLimit  bool // scan hit the parameter's lower bound
	AtUpperLimit  bool // scan hit the parameter's upper bound
	AtLowerMaxFcn bool // call budget exhausted on the lower side
	AtUpperMaxFcn bool // call budget exhausted on the upper side
	LowerNewMin   bool // a better minimum turned up during the lower scan
	UpperNewMin   bool // a better minimum turned up during the upper scan

	NFcn int
}

// IsValid reports whether both interval edges were located cleanly.
func (m MinosResult) IsValid() bool {
	return m.LowerValid && m.UpperValid
}
