/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */

// Package trueskill implements the two-player, no-draw case of the TrueSkill
// Bayesian skill rating system.
package trueskill

import (
	"fmt"
	"math"
)

const (
	DefaultMu    = 25.0
	DefaultSigma = DefaultMu / 3.0
	DefaultBeta  = DefaultSigma / 2.0
	DefaultTau   = DefaultSigma / 100.0

	// BaseDisplayScore is the display score of a player at the prior.
	BaseDisplayScore = 1000
	// DisplayScale converts conservative estimate units into display points.
	DisplayScale = 40.0
)

// Rating is a player's skill belief. Values are immutable; Update returns new
// ratings rather than modifying its inputs.
type Rating struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

// InvariantViolation is the panic value raised when a malformed rating reaches
// the model.
type InvariantViolation struct {
	Rating Rating
	Reason string
}

func (iv InvariantViolation) Error() string {
	return fmt.Sprintf("trueskill: invalid rating (mu:%v sigma:%v): %v",
		iv.Rating.Mu, iv.Rating.Sigma, iv.Reason)
}

// Model holds the rating parameters.
type Model struct {
	Mu    float64
	Sigma float64
	Beta  float64
	Tau   float64
}

var DefaultModel = Model{
	Mu:    DefaultMu,
	Sigma: DefaultSigma,
	Beta:  DefaultBeta,
	Tau:   DefaultTau,
}

// NewRating returns the prior for a player with no recorded matches.
func (m Model) NewRating() Rating {
	return Rating{Mu: m.Mu, Sigma: m.Sigma}
}

// Update returns the posterior ratings of winner and loser after a single
// decisive game between them.
func (m Model) Update(winner Rating, loser Rating) (Rating, Rating) {
	mustBeValid(winner)
	mustBeValid(loser)

	tau2 := m.Tau * m.Tau
	winVar := winner.Sigma*winner.Sigma + tau2
	loseVar := loser.Sigma*loser.Sigma + tau2

	c2 := 2*m.Beta*m.Beta + winVar + loseVar
	c := math.Sqrt(c2)
	t := (winner.Mu - loser.Mu) / c

	v := vWin(t)
	w := wWin(t)

	newWinner := Rating{
		Mu:    winner.Mu + winVar/c*v,
		Sigma: math.Sqrt(winVar * math.Max(1-winVar/c2*w, minVarianceFactor)),
	}
	newLoser := Rating{
		Mu:    loser.Mu - loseVar/c*v,
		Sigma: math.Sqrt(loseVar * math.Max(1-loseVar/c2*w, minVarianceFactor)),
	}

	mustBeValid(newWinner)
	mustBeValid(newLoser)

	return newWinner, newLoser
}

// MatchQuality estimates how evenly matched a and b are, in [0,1]. Higher
// values mean a closer contest.
func (m Model) MatchQuality(a Rating, b Rating) float64 {
	mustBeValid(a)
	mustBeValid(b)

	twoBeta2 := 2 * m.Beta * m.Beta
	c2 := twoBeta2 + a.Sigma*a.Sigma + b.Sigma*b.Sigma
	diff := a.Mu - b.Mu

	return math.Sqrt(twoBeta2/c2) * math.Exp(-(diff*diff)/(2*c2))
}

// ConservativeEstimate is the pessimistic skill estimate used for ranking.
func ConservativeEstimate(r Rating) float64 {
	mustBeValid(r)
	return r.Mu - 3*r.Sigma
}

// DisplayScore maps a rating onto integer leaderboard points. A player at the
// default prior is worth BaseDisplayScore.
func DisplayScore(r Rating) int {
	return int(math.Round(BaseDisplayScore + DisplayScale*ConservativeEstimate(r)))
}

func NewRating() Rating {
	return DefaultModel.NewRating()
}

func Update(winner Rating, loser Rating) (Rating, Rating) {
	return DefaultModel.Update(winner, loser)
}

func MatchQuality(a Rating, b Rating) float64 {
	return DefaultModel.MatchQuality(a, b)
}

// Validate reports whether r is a well formed rating.
func Validate(r Rating) error {
	switch {
	case math.IsNaN(r.Mu) || math.IsInf(r.Mu, 0):
		return InvariantViolation{Rating: r, Reason: "mean is not finite"}
	case math.IsNaN(r.Sigma) || math.IsInf(r.Sigma, 0):
		return InvariantViolation{Rating: r, Reason: "uncertainty is not finite"}
	case r.Sigma <= 0:
		return InvariantViolation{Rating: r, Reason: "uncertainty must be positive"}
	}
	return nil
}

func mustBeValid(r Rating) {
	if err := Validate(r); err != nil {
		panic(err)
	}
}
