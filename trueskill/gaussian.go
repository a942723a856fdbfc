/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package trueskill

import "math"

// keeps posterior variance strictly positive when w rounds to 1
const minVarianceFactor = 1e-12

func pdf(x float64) float64 {
	return math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
}

func cdf(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// vWin is the additive mean correction for a win with normalized performance
// difference t.
func vWin(t float64) float64 {
	denom := cdf(t)
	if denom == 0 {
		return -t
	}
	return pdf(t) / denom
}

// wWin is the multiplicative variance correction for a win.
func wWin(t float64) float64 {
	denom := cdf(t)
	if denom == 0 {
		if t < 0 {
			return 1
		}
		return 0
	}
	v := pdf(t) / denom
	return v * (v + t)
}
