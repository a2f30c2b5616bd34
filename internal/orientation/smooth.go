// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "math"

// Smooth runs a zero-phase exponential filter over a time-ordered series:
// one forward SLERP pass followed by one backward pass, each with
// alpha = 1 - exp(-dt/tau). A non-positive tau returns a copy of the input.
func Smooth(series []TimedQuat, tauUS int64) []TimedQuat {
	out := make([]TimedQuat, len(series))
	copy(out, series)
	if tauUS <= 0 || len(out) < 2 {
		return out
	}
	tau := float64(tauUS)

	for i := 1; i < len(out); i++ {
		a := alpha(out[i].TimeUS-out[i-1].TimeUS, tau)
		out[i].Q = Slerp(out[i-1].Q, out[i].Q, a)
	}
	for i := len(out) - 2; i >= 0; i-- {
		a := alpha(out[i+1].TimeUS-out[i].TimeUS, tau)
		out[i].Q = Slerp(out[i+1].Q, out[i].Q, a)
	}
	return out
}

func alpha(dtUS int64, tau float64) float64 {
	if dtUS <= 0 {
		return 0
	}
	return 1 - math.Exp(-float64(dtUS)/tau)
}
