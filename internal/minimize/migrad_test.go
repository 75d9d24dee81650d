package minimize

import (
	"math"
	"testing"

	"github.com/cwbudde/minfit/internal/objective"
	"github.com/cwbudde/minfit/internal/param"
)

func newQuadraticAdapter(t *testing.T, up float64) *objective.Adapter {
	t.Helper()
	fcn, err := objective.NewAdapter(func(x []float64) float64 {
		dx := x[0] - 2
		dy := x[1] - 3
		return dx*dx + dy*dy
	}, up)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return fcn
}

func newQuadraticState(t *testing.T) *param.State {
	t.Helper()
	st := param.NewState()
	if err := st.Add("x", 0, 0.1); err != nil {
		t.Fatalf("Add x: %v", err)
	}
	if err := st.Add("y", 0, 0.1); err != nil {
		t.Fatalf("Add y: %v", err)
	}
	return st
}

func TestMigradQuadratic(t *testing.T) {
	fcn := newQuadraticAdapter(t, objective.LeastSquaresUp)
	st := newQuadraticState(t)

	fm, err := NewMigrad(fcn, st, 1).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if got := st.Get(0).Value; math.Abs(got-2) > 1e-3 {
		t.Errorf("x = %v, want 2", got)
	}
	if got := st.Get(1).Value; math.Abs(got-3) > 1e-3 {
		t.Errorf("y = %v, want 3", got)
	}
	if fm.Fval > 1e-5 {
		t.Errorf("fval = %v, want ~0", fm.Fval)
	}
	if fm.Edm >= fm.EdmMax() {
		t.Errorf("edm = %v, want < %v", fm.Edm, fm.EdmMax())
	}
	if !fm.HasCovariance {
		t.Fatal("expected covariance")
	}
	cov, ok := st.Covariance()
	if !ok {
		t.Fatal("state carries no covariance")
	}
	// f = (x-2)^2 + (y-3)^2 with errordef 1 has unit covariance
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if got := cov.At(i, j); math.Abs(got-want) > 0.05 {
				t.Errorf("cov[%d][%d] = %v, want %v", i, j, got, want)
			}
		}
	}
	for i := 0; i < 2; i++ {
		if got := st.Get(i).Error; math.Abs(got-1) > 0.05 {
			t.Errorf("error[%d] = %v, want 1", i, got)
		}
	}
}

func TestMigradCorrelatedCovariance(t *testing.T) {
	fcn, err := objective.NewAdapter(func(x []float64) float64 {
		return x[0]*x[0] + (x[0]+x[1])*(x[0]+x[1])
	}, 1)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	st := param.NewState()
	st.Add("a", 1, 0.1)
	st.Add("b", 1, 0.1)

	fm, err := NewMigrad(fcn, st, 2).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}

	// H = [[4,2],[2,2]], cov = 2*H^-1 = [[1,-1],[-1,2]]
	want := [2][2]float64{{1, -1}, {-1, 2}}
	cov, ok := st.Covariance()
	if !ok {
		t.Fatal("state carries no covariance")
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := cov.At(i, j); math.Abs(got-want[i][j]) > 0.1 {
				t.Errorf("cov[%d][%d] = %v, want %v", i, j, got, want[i][j])
			}
		}
	}
}

func TestMigradBoundedParameter(t *testing.T) {
	fcn, err := objective.NewAdapter(func(x []float64) float64 {
		d := x[0] - 5
		return d * d
	}, 1)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	st := param.NewState()
	st.Add("x", 0, 0.1)
	if err := st.SetLimits(0, -1, 1); err != nil {
		t.Fatalf("SetLimits: %v", err)
	}

	fm, err := NewMigrad(fcn, st, 1).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	got := st.Get(0).Value
	if got < -1 || got > 1 {
		t.Fatalf("x = %v escaped limits [-1, 1]", got)
	}
	if math.Abs(got-1) > 1e-2 {
		t.Errorf("x = %v, want ~1 (constrained minimum at the bound)", got)
	}
	if fm.HasReachedCallLimit {
		t.Error("unexpected call limit")
	}
}

func TestMigradCallLimit(t *testing.T) {
	fcn := newQuadraticAdapter(t, 1)
	st := newQuadraticState(t)

	fm, err := NewMigrad(fcn, st, 1).Minimize(1, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.HasReachedCallLimit {
		t.Error("expected HasReachedCallLimit")
	}
	if fm.IsValid() {
		t.Error("call-limited minimum must not be valid")
	}
}

func TestMigradFixedParameter(t *testing.T) {
	fcn := newQuadraticAdapter(t, 1)
	st := newQuadraticState(t)
	st.SetValue(1, 7)
	st.Fix(1)

	fm, err := NewMigrad(fcn, st, 1).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if got := st.Get(0).Value; math.Abs(got-2) > 1e-3 {
		t.Errorf("x = %v, want 2", got)
	}
	if got := st.Get(1).Value; got != 7 {
		t.Errorf("fixed y moved to %v", got)
	}
	if want := 16.0; math.Abs(fm.Fval-want) > 1e-6 {
		t.Errorf("fval = %v, want %v", fm.Fval, want)
	}
}

func TestMigradAllFixed(t *testing.T) {
	fcn := newQuadraticAdapter(t, 1)
	st := newQuadraticState(t)
	st.Fix(0)
	st.Fix(1)

	fm, err := NewMigrad(fcn, st, 1).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if want := 13.0; math.Abs(fm.Fval-want) > 1e-12 {
		t.Errorf("fval = %v, want %v", fm.Fval, want)
	}
	if fm.Edm != 0 {
		t.Errorf("edm = %v, want 0", fm.Edm)
	}
}

func TestMigradAnalyticGradient(t *testing.T) {
	fcn := newQuadraticAdapter(t, 1)
	fcn.SetGradient(func(x []float64) []float64 {
		return []float64{2 * (x[0] - 2), 2 * (x[1] - 3)}
	})
	st := newQuadraticState(t)

	fm, err := NewMigrad(fcn, st, 1).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if fcn.NGrad() == 0 {
		t.Error("analytic gradient was never called")
	}
	if got := st.Get(0).Value; math.Abs(got-2) > 1e-3 {
		t.Errorf("x = %v, want 2", got)
	}
}

func TestMigradNonFiniteThrow(t *testing.T) {
	fcn, err := objective.NewAdapter(func(x []float64) float64 {
		return math.NaN()
	}, 1)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	fcn.SetThrowNaN(true)
	st := param.NewState()
	st.Add("x", 0, 0.1)

	if _, err := NewMigrad(fcn, st, 1).Minimize(0, 0); err == nil {
		t.Fatal("expected evaluation error")
	}
}

func TestSimplexQuadratic(t *testing.T) {
	fcn := newQuadraticAdapter(t, 1)
	st := newQuadraticState(t)

	fm, err := NewSimplex(fcn, st).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if got := st.Get(0).Value; math.Abs(got-2) > 1e-2 {
		t.Errorf("x = %v, want 2", got)
	}
	if got := st.Get(1).Value; math.Abs(got-3) > 1e-2 {
		t.Errorf("y = %v, want 3", got)
	}
	if fm.HasCovariance {
		t.Error("simplex must not report a covariance")
	}
}

func TestMigradStartAtMinimumCovariance(t *testing.T) {
	// starting inside the convergence region must not leave the diagonal
	// curvature seed behind as the covariance
	fcn, err := objective.NewAdapter(func(x []float64) float64 {
		return x[0]*x[0] + (x[0]+x[1])*(x[0]+x[1])
	}, 1)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	st := param.NewState()
	st.Add("a", 0, 0.1)
	st.Add("b", 0, 0.1)

	fm, err := NewMigrad(fcn, st, 1).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize: %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if !fm.HasAccurateCovar {
		t.Error("expected accurate covariance")
	}

	// H = [[4,2],[2,2]], cov = 2*H^-1 = [[1,-1],[-1,2]]
	want := [2][2]float64{{1, -1}, {-1, 2}}
	cov, ok := st.Covariance()
	if !ok {
		t.Fatal("state carries no covariance")
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if got := cov.At(i, j); math.Abs(got-want[i][j]) > 0.1 {
				t.Errorf("cov[%d][%d] = %v, want %v", i, j, got, want[i][j])
			}
		}
	}
}

func TestMigradAnalyticGradientStrategyZero(t *testing.T) {
	grad := func(x []float64) []float64 {
		return []float64{2 * (x[0] - 2), 2 * (x[1] - 3)}
	}

	numeric := newQuadraticAdapter(t, 1)
	if _, err := NewMigrad(numeric, newQuadraticState(t), 0).Minimize(0, 0); err != nil {
		t.Fatalf("Minimize (numerical): %v", err)
	}

	analytic := newQuadraticAdapter(t, 1)
	analytic.SetGradient(grad)
	st := newQuadraticState(t)
	fm, err := NewMigrad(analytic, st, 0).Minimize(0, 0)
	if err != nil {
		t.Fatalf("Minimize (analytic): %v", err)
	}
	if !fm.IsValid() {
		t.Fatalf("minimum not valid: %+v", fm)
	}
	if got := st.Get(0).Value; math.Abs(got-2) > 1e-3 {
		t.Errorf("x = %v, want 2", got)
	}

	// at strategy 0 finite differences run only for the curvature seed,
	// so the analytic run must spend fewer objective calls
	if analytic.NCalls() >= numeric.NCalls() {
		t.Errorf("analytic run spent %d calls, numerical %d; want fewer",
			analytic.NCalls(), numeric.NCalls())
	}
}
