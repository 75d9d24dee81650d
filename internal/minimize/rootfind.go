package minimize

import "math"

const zeroinMaxIter = 100

// zeroin finds a root of f on [a, b] by Brent's method, combining bisection
// with inverse quadratic interpolation. fa and fb are the already-known
// values at the endpoints and must bracket a sign change. Evaluation errors
// abort the search.
func zeroin(f func(float64) (float64, error), a, b, fa, fb, tol float64) (float64, error) {
	c, fc := a, fa
	d := b - a
	e := d

	for iter := 0; iter < zeroinMaxIter; iter++ {
		if math.Abs(fc) < math.Abs(fb) {
			a, b, c = b, c, b
			fa, fb, fc = fb, fc, fb
		}

		tolAct := 2*epsMach*math.Abs(b) + tol/2
		newStep := (c - b) / 2
		if math.Abs(newStep) <= tolAct || fb == 0 {
			return b, nil
		}

		// interpolation is attempted only when the previous step was
		// already large enough and moved in the right direction
		if math.Abs(e) >= tolAct && math.Abs(fa) > math.Abs(fb) {
			var p, q float64
			cb := c - b
			if a == c {
				// two points only, linear interpolation
				t1 := fb / fa
				p = cb * t1
				q = 1 - t1
			} else {
				// inverse quadratic through a, b, c
				t1 := fb / fc
				t2 := fb / fa
				q = fa / fc
				p = t2 * (cb*q*(q-t1) - (b-a)*(t1-1))
				q = (q - 1) * (t1 - 1) * (t2 - 1)
			}
			if p > 0 {
				q = -q
			} else {
				p = -p
			}
			if p < 0.75*cb*q-math.Abs(tolAct*q)/2 && p < math.Abs(e*q/2) {
				newStep = p / q
			}
		}

		if math.Abs(newStep) < tolAct {
			if newStep > 0 {
				newStep = tolAct
			} else {
				newStep = -tolAct
			}
		}

		a, fa = b, fb
		e = d
		d = newStep
		b += newStep
		var err error
		if fb, err = f(b); err != nil {
			return 0, err
		}
		if (fb > 0 && fc > 0) || (fb < 0 && fc < 0) {
			c, fc = a, fa
			d = b - a
			e = d
		}
	}
	return b, nil
}
