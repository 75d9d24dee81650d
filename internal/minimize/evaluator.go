package minimize

import (
	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/param"
)

// evaluator bridges the internal search coordinates to the user's objective:
// it expands the internal vector of the free parameters to the full external
// vector (fixed parameters keep their values) and tracks how many calls the
// current operation has spent against its budget.
type evaluator struct {
	fcn   *objective.Adapter
	st    *param.State
	ext   []float64
	calls int
}

func newEvaluator(fcn *objective.Adapter, st *param.State) *evaluator {
	return &evaluator{fcn: fcn, st: st, ext: make([]float64, st.Len())}
}

func (e *evaluator) eval(z []float64) (float64, error) {
	e.st.ExternalFrom(z, e.ext)
	e.calls++
	return e.fcn.Eval(e.ext)
}
