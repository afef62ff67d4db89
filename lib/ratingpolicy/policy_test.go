// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package ratingpolicy

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	policy := Default()
	if issues := policy.Validate(); len(issues) != 0 {
		t.Fatalf("default policy has issues: %s", strings.Join(issues, "; "))
	}
	if policy.DefaultRating != 1200 {
		t.Fatalf("default rating = %v, want 1200", policy.DefaultRating)
	}
	if policy.SureWinDifference != 600 {
		t.Fatalf("sure win difference = %v, want 600", policy.SureWinDifference)
	}
	if policy.KConstantRating != 2200 {
		t.Fatalf("k constant rating = %v, want 2200", policy.KConstantRating)
	}
}

func TestParseStripsCommentsAndTrailingCommas(t *testing.T) {
	t.Parallel()

	policy, err := Parse([]byte(`{
		// Faster convergence for the weekend tournament.
		"provisional_k": 48,
		"provisional_games": 15,
		/* leave the rest at defaults */
		"sure_win_difference": 800,
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if policy.ProvisionalK != 48 {
		t.Errorf("provisional_k = %v, want 48", policy.ProvisionalK)
	}
	if policy.ProvisionalGames != 15 {
		t.Errorf("provisional_games = %v, want 15", policy.ProvisionalGames)
	}
	if policy.SureWinDifference != 800 {
		t.Errorf("sure_win_difference = %v, want 800", policy.SureWinDifference)
	}

	// Omitted fields keep their compiled defaults.
	if policy.StandardK != 24 {
		t.Errorf("standard_k = %v, want default 24", policy.StandardK)
	}
	if policy.DefaultRating != 1200 {
		t.Errorf("default_rating = %v, want default 1200", policy.DefaultRating)
	}
}

func TestParseRejectsMalformedDocument(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"provisional_k": `)); err == nil {
		t.Fatal("expected error for truncated document")
	}
	if _, err := Parse([]byte(`{"provisional_k": "forty"}`)); err == nil {
		t.Fatal("expected error for string where number required")
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rating-policy.jsonc")
	content := "{\n  // tighter floor for the ranked ladder\n  \"floor_k\": 16,\n}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}

	policy, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if policy.FloorK != 16 {
		t.Errorf("floor_k = %v, want 16", policy.FloorK)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		mutate         func(*Policy)
		expectedIssues int
		wantSubstrings []string
	}{
		{
			name:           "defaults",
			mutate:         func(p *Policy) {},
			expectedIssues: 0,
		},
		{
			name:           "zero default rating",
			mutate:         func(p *Policy) { p.DefaultRating = 0 },
			expectedIssues: 1,
			wantSubstrings: []string{"default_rating"},
		},
		{
			name:           "negative provisional games",
			mutate:         func(p *Policy) { p.ProvisionalGames = -1 },
			expectedIssues: 1,
			wantSubstrings: []string{"provisional_games"},
		},
		{
			name:           "zero standard k",
			mutate:         func(p *Policy) { p.StandardK = 0 },
			// The default floor_k now also exceeds standard_k.
			expectedIssues: 2,
			wantSubstrings: []string{"standard_k must be positive", "floor_k must not exceed standard_k"},
		},
		{
			name:           "floor above standard",
			mutate:         func(p *Policy) { p.FloorK = 30 },
			expectedIssues: 1,
			wantSubstrings: []string{"floor_k must not exceed standard_k"},
		},
		{
			name:           "standard above provisional",
			mutate:         func(p *Policy) { p.StandardK = 50 },
			expectedIssues: 1,
			wantSubstrings: []string{"standard_k must not exceed provisional_k"},
		},
		{
			name:           "zero taper width",
			mutate:         func(p *Policy) { p.TaperWidth = 0 },
			expectedIssues: 1,
			wantSubstrings: []string{"taper_width"},
		},
		{
			name:           "negative sure win difference",
			mutate:         func(p *Policy) { p.SureWinDifference = -100 },
			expectedIssues: 1,
			wantSubstrings: []string{"sure_win_difference"},
		},
		{
			name:           "zero sure win difference disables the rule",
			mutate:         func(p *Policy) { p.SureWinDifference = 0 },
			expectedIssues: 0,
		},
		{
			name: "multiple issues",
			mutate: func(p *Policy) {
				p.DefaultRating = -1
				p.ProvisionalK = 0
				p.KConstantRating = 0
			},
			// default_rating, provisional_k, standard_k > provisional_k,
			// k_constant_rating
			expectedIssues: 4,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			policy := Default()
			testCase.mutate(&policy)

			issues := policy.Validate()
			if len(issues) != testCase.expectedIssues {
				t.Fatalf("got %d issues, want %d:\n%s", len(issues), testCase.expectedIssues, strings.Join(issues, "\n"))
			}

			for _, substring := range testCase.wantSubstrings {
				found := false
				for _, issue := range issues {
					if strings.Contains(issue, substring) {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("expected issue containing %q, got:\n%s", substring, strings.Join(issues, "\n"))
				}
			}
		})
	}
}

func TestKFactor(t *testing.T) {
	t.Parallel()

	policy := Default()

	tests := []struct {
		name        string
		rating      float64
		gamesPlayed int
		want        float64
	}{
		{name: "first game", rating: 1200, gamesPlayed: 0, want: 40},
		{name: "last provisional game", rating: 1200, gamesPlayed: 9, want: 40},
		{name: "first established game", rating: 1200, gamesPlayed: 10, want: 24},
		{name: "provisional outranks rating", rating: 2600, gamesPlayed: 3, want: 40},
		{name: "at taper start", rating: 2200, gamesPlayed: 100, want: 24},
		{name: "taper midpoint", rating: 2400, gamesPlayed: 100, want: 18},
		{name: "at taper end", rating: 2600, gamesPlayed: 100, want: 12},
		{name: "beyond taper end", rating: 3000, gamesPlayed: 100, want: 12},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := policy.KFactor(testCase.rating, testCase.gamesPlayed)
			if math.Abs(got-testCase.want) > 1e-9 {
				t.Fatalf("KFactor(%v, %d) = %v, want %v", testCase.rating, testCase.gamesPlayed, got, testCase.want)
			}
		})
	}
}

func TestExpected(t *testing.T) {
	t.Parallel()

	if got := Expected(1200, 1200); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("Expected with equal ratings = %v, want 0.5", got)
	}

	// A 400-point favorite wins ten games to one under the logistic
	// model.
	want := 10.0 / 11.0
	if got := Expected(1600, 1200); math.Abs(got-want) > 1e-9 {
		t.Fatalf("Expected(1600, 1200) = %v, want %v", got, want)
	}

	// Symmetry: the two expectations of a pair sum to one.
	if sum := Expected(1500, 1320) + Expected(1320, 1500); math.Abs(sum-1) > 1e-9 {
		t.Fatalf("pair expectations sum to %v, want 1", sum)
	}
}

func TestAdjustment(t *testing.T) {
	t.Parallel()

	policy := Default()

	t.Run("equal established players split the standard K", func(t *testing.T) {
		t.Parallel()
		got := policy.Adjustment(1400, 1400, 30, 30)
		if math.Abs(got-12) > 1e-9 {
			t.Fatalf("adjustment = %v, want 12", got)
		}
	})

	t.Run("provisional opponent raises the pair K", func(t *testing.T) {
		t.Parallel()
		// Pair K is the mean of 40 (provisional) and 24 (established),
		// so equal ratings move 16 points.
		got := policy.Adjustment(1200, 1200, 2, 50)
		if math.Abs(got-16) > 1e-9 {
			t.Fatalf("adjustment = %v, want 16", got)
		}
	})

	t.Run("favorite win at the sure-win gap moves nothing", func(t *testing.T) {
		t.Parallel()
		if got := policy.Adjustment(1900, 1300, 40, 40); got != 0 {
			t.Fatalf("adjustment = %v, want 0", got)
		}
		if got := policy.Adjustment(2400, 1100, 40, 40); got != 0 {
			t.Fatalf("adjustment = %v, want 0", got)
		}
	})

	t.Run("upset across the gap still moves points", func(t *testing.T) {
		t.Parallel()
		got := policy.Adjustment(1300, 1900, 40, 40)
		if got <= 12 {
			t.Fatalf("upset adjustment = %v, want more than the even-match 12", got)
		}
	})

	t.Run("zero sure-win difference disables the rule", func(t *testing.T) {
		t.Parallel()
		disabled := Default()
		disabled.SureWinDifference = 0
		if got := disabled.Adjustment(2400, 1100, 40, 40); got <= 0 {
			t.Fatalf("adjustment = %v, want positive", got)
		}
	})

	t.Run("larger favorites move fewer points", func(t *testing.T) {
		t.Parallel()
		narrow := policy.Adjustment(1500, 1400, 40, 40)
		wide := policy.Adjustment(1700, 1400, 40, 40)
		if wide >= narrow {
			t.Fatalf("adjustment for 300-point favorite (%v) should be below 100-point favorite (%v)", wide, narrow)
		}
	})
}
