package controller

import "math"

// classical is boundary-layer sliding mode with a fixed switching gain K and
// linear damping kd on the sliding variable.  The target reaching dynamics
// are
//
//	sdot = -K*sat(s/eps) - kd*s
//
// With a model attached, the law inverts the affine map sdot(u) = b + a*u and
// commands exactly those dynamics (equivalent control plus switching term).
// Without one it returns the switching term directly.
func (c *Controller) classical(x []float64) float64 {
	s := c.Sigma(x)
	K, kd := c.cfg.gains[4], c.cfg.gains[5]
	want := -K*sat(s, c.cfg.boundaryLayer) - kd*s

	if b, a, ok := c.sdotAffine(x); ok {
		return (want - b) / a
	}
	return want
}

// sdotAffine probes the model for the affine coefficients of the sliding
// variable's derivative, sdot(u) = b + a*u.  The mass matrix does not depend
// on u, so two derivative evaluations recover a and b exactly.
func (c *Controller) sdotAffine(x []float64) (b, a float64, ok bool) {
	if c.dyn == nil {
		return 0, 0, false
	}
	d0, ok0, _ := c.dyn.Deriv(x, 0)
	d1, ok1, _ := c.dyn.Deriv(x, 1)
	if !ok0 || !ok1 {
		return 0, 0, false
	}

	g := c.cfg.gains
	k1, k2, lam1, lam2 := g[0], g[1], g[2], g[3]
	b = k1*(d0[4]+lam1*x[4]) + k2*(d0[5]+lam2*x[5])
	a = k1*(d1[4]-d0[4]) + k2*(d1[5]-d0[5])
	if math.Abs(a) < 1e-9 || math.IsNaN(b) || math.IsInf(b, 0) {
		// control authority over sdot lost; fall back to the switching law
		return 0, 0, false
	}
	return b, a, true
}

// superTwisting is the continuous second-order law
//
//	u    = -K1*sqrt(|s|)*sat(s/eps) + z
//	zdot = -K2*sat(s/eps)
//
// The integral term z lives in the scratch state and is advanced by one
// explicit Euler step per tick, which matches the plant integration step.
// Finite-time convergence holds for K1, K2 positive with K1 sufficiently
// larger than the disturbance bound; the validation layer enforces
// positivity and the tuner finds the rest.
func (c *Controller) superTwisting(x []float64, st State) (float64, State) {
	s := c.Sigma(x)
	K1, K2 := c.cfg.gains[0], c.cfg.gains[1]
	return c.staStep(s, K1, K2, &st), st
}

func (c *Controller) staStep(s, K1, K2 float64, st *State) float64 {
	sw := sat(s, c.cfg.boundaryLayer)
	u := -K1*math.Sqrt(math.Abs(s))*sw + st.Integral
	st.Integral += -K2 * sw * c.cfg.dt
	return u
}

// adaptive is the self-tuning law u = -K(t)*sat(s/eps).  Outside the dead
// zone the gain estimate grows proportionally to |s|; inside it the estimate
// leaks exponentially back toward its nominal value.  The clamp to
// [gain_min, gain_max] is a hard invariant: it is applied on every update and
// the estimate never leaves the interval, even transiently.
func (c *Controller) adaptive(x []float64, st State) (float64, State) {
	s := c.Sigma(x)
	gamma := c.cfg.gains[4]
	st.Gain = c.adaptGain(st.Gain, s, gamma)
	return -st.Gain * sat(s, c.cfg.boundaryLayer), st
}

func (c *Controller) adaptGain(K, s, gamma float64) float64 {
	if math.Abs(s) > c.cfg.deadZone {
		K += gamma * math.Abs(s) * c.cfg.dt
	} else {
		K += c.cfg.leakRate * (c.cfg.gainInit - K) * c.cfg.dt
	}
	return clamp(K, c.cfg.gainMin, c.cfg.gainMax)
}

// hybrid switches between the two continuous laws on the magnitude of the
// sliding variable.  Far from the surface (|s| above threshold+margin) the
// conservative self-tuning law runs with its bounded gain estimate; close to
// it (|s| below threshold-margin) the aggressive super-twisting law finishes
// the reach.  Between the two thresholds the previous mode is retained, so
// the machine cannot chatter between laws.
func (c *Controller) hybrid(x []float64, st State) (float64, State) {
	s := c.Sigma(x)
	abs := math.Abs(s)

	switch {
	case abs > c.cfg.switchThreshold+c.cfg.hysteresisMargin:
		if st.Mode != ConservativeMode {
			st.Mode = ConservativeMode
			st.Switches++
		}
	case abs < c.cfg.switchThreshold-c.cfg.hysteresisMargin:
		if st.Mode != AggressiveMode {
			st.Mode = AggressiveMode
			st.Switches++
		}
	}

	if st.Mode == ConservativeMode {
		st.Gain = c.adaptGain(st.Gain, s, c.cfg.adaptRate)
		return -st.Gain * sat(s, c.cfg.boundaryLayer), st
	}
	return c.staStep(s, c.cfg.staGain1, c.cfg.staGain2, &st), st
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
