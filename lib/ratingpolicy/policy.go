// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratingpolicy defines the tunable parameters of the rating
// algorithm: the K-factor curve, the provisional-game threshold, and
// the sure-win cutoff.
//
// Operators author policy files as JSONC (JSON extended with //
// comments, /* block comments */, and trailing commas); the compiled
// defaults match the constants the arena has always used, so a
// missing or partial file never changes behavior silently.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Policy (defaults filled in)
//  2. Validate: structural checks (positive K values, ordered bands)
//  3. KFactor / Adjustment: pure functions the rating engine calls
//     per winner-loser pair
package ratingpolicy

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/tidwall/jsonc"
)

// Policy holds the rating algorithm parameters. The zero value is
// not usable; start from Default.
type Policy struct {
	// DefaultRating is the rating assigned on first participation.
	DefaultRating float64 `json:"default_rating"`

	// ProvisionalGames is the number of games during which a player
	// rates with ProvisionalK. Convergence speed for newcomers.
	ProvisionalGames int `json:"provisional_games"`

	// ProvisionalK applies while gamesPlayed < ProvisionalGames.
	ProvisionalK float64 `json:"provisional_k"`

	// StandardK applies to established players below KConstantRating.
	StandardK float64 `json:"standard_k"`

	// FloorK is the minimum K for high-rated players.
	FloorK float64 `json:"floor_k"`

	// KConstantRating is where the K taper begins. Ratings above it
	// move more slowly.
	KConstantRating float64 `json:"k_constant_rating"`

	// TaperWidth is the rating span over which K falls linearly from
	// StandardK to FloorK above KConstantRating.
	TaperWidth float64 `json:"taper_width"`

	// SureWinDifference is the rating gap at which the favorite
	// winning moves no points. An upset across the gap still counts.
	// Zero disables the rule.
	SureWinDifference float64 `json:"sure_win_difference"`
}

// Default returns the compiled-in policy.
func Default() Policy {
	return Policy{
		DefaultRating:     1200,
		ProvisionalGames:  10,
		ProvisionalK:      40,
		StandardK:         24,
		FloorK:            12,
		KConstantRating:   2200,
		TaperWidth:        400,
		SureWinDifference: 600,
	}
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result over the default policy, so omitted fields
// keep their defaults.
func Parse(data []byte) (*Policy, error) {
	policy := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), &policy); err != nil {
		return nil, fmt.Errorf("parsing rating policy: %w", err)
	}
	return &policy, nil
}

// ReadFile reads a JSONC policy file from disk.
func ReadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	policy, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// Validate checks the policy for structural issues. Returns a list of
// human-readable issue descriptions; an empty list means the policy
// is valid.
func (p *Policy) Validate() []string {
	var issues []string

	if p.DefaultRating <= 0 {
		issues = append(issues, "default_rating must be positive")
	}
	if p.ProvisionalGames < 0 {
		issues = append(issues, "provisional_games must not be negative")
	}
	if p.ProvisionalK <= 0 {
		issues = append(issues, "provisional_k must be positive")
	}
	if p.StandardK <= 0 {
		issues = append(issues, "standard_k must be positive")
	}
	if p.FloorK <= 0 {
		issues = append(issues, "floor_k must be positive")
	}
	if p.FloorK > p.StandardK {
		issues = append(issues, "floor_k must not exceed standard_k")
	}
	if p.StandardK > p.ProvisionalK {
		issues = append(issues, "standard_k must not exceed provisional_k")
	}
	if p.KConstantRating <= 0 {
		issues = append(issues, "k_constant_rating must be positive")
	}
	if p.TaperWidth <= 0 {
		issues = append(issues, "taper_width must be positive")
	}
	if p.SureWinDifference < 0 {
		issues = append(issues, "sure_win_difference must not be negative (0 disables)")
	}

	return issues
}

// KFactor returns the K value for a single player: ProvisionalK for
// the first ProvisionalGames games, StandardK below KConstantRating,
// then a linear taper down to FloorK across TaperWidth.
func (p *Policy) KFactor(rating float64, gamesPlayed int) float64 {
	if gamesPlayed < p.ProvisionalGames {
		return p.ProvisionalK
	}
	if rating <= p.KConstantRating {
		return p.StandardK
	}
	excess := rating - p.KConstantRating
	if excess >= p.TaperWidth {
		return p.FloorK
	}
	return p.StandardK - (p.StandardK-p.FloorK)*(excess/p.TaperWidth)
}

// Expected returns the winner's expected score against the loser
// under the logistic rating model.
func Expected(winnerRating, loserRating float64) float64 {
	return 1 / (1 + math.Pow(10, (loserRating-winnerRating)/400))
}

// Adjustment returns the symmetric rating delta for one decided
// winner-loser pair: the winner gains it and the loser loses it, so
// each pair is exactly zero-sum. The pair K is the mean of the two
// players' individual K factors — a provisional player converges fast
// against anyone, and two veterans move slowly.
//
// When the favorite wins across SureWinDifference, the delta is zero;
// an upset across the gap still moves points.
func (p *Policy) Adjustment(winnerRating, loserRating float64, winnerGames, loserGames int) float64 {
	if p.SureWinDifference > 0 && winnerRating-loserRating >= p.SureWinDifference {
		return 0
	}
	pairK := (p.KFactor(winnerRating, winnerGames) + p.KFactor(loserRating, loserGames)) / 2
	return pairK * (1 - Expected(winnerRating, loserRating))
}
