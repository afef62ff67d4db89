// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"strings"

	"github.com/muster-project/muster/lib/ref"
)

// defaultModeratorLevel is the room power level that confers
// moderator standing when no threshold is configured. Matrix rooms
// conventionally grant moderators level 50.
const defaultModeratorLevel = 50

// ModeratorSet decides who may issue moderation commands. Membership
// is the union of a configured operator list and anyone whose room
// power level meets the threshold, so operators keep control even
// when room state is missing or stale.
//
// The set is not safe for concurrent use; the ingress loop owns it
// and is its only caller.
type ModeratorSet struct {
	configured map[string]struct{}
	levels     map[string]int
	threshold  int
}

// NewModeratorSet builds the set from the statically configured
// moderators. threshold <= 0 selects the conventional level 50.
func NewModeratorSet(configured []ref.UserID, threshold int) *ModeratorSet {
	if threshold <= 0 {
		threshold = defaultModeratorLevel
	}
	set := &ModeratorSet{
		configured: make(map[string]struct{}, len(configured)),
		levels:     make(map[string]int),
		threshold:  threshold,
	}
	for _, user := range configured {
		if user.IsZero() {
			continue
		}
		set.configured[user.FoldedKey()] = struct{}{}
	}
	return set
}

// IsModerator reports whether the user may issue moderation commands.
func (m *ModeratorSet) IsModerator(user ref.UserID) bool {
	key := user.FoldedKey()
	if _, ok := m.configured[key]; ok {
		return true
	}
	return m.levels[key] >= m.threshold
}

// ApplyPowerLevels replaces the room-derived membership from a power
// levels state event. The previous room state is discarded wholesale:
// a demoted user loses standing on the next event, they do not linger.
func (m *ModeratorSet) ApplyPowerLevels(users map[string]int) {
	levels := make(map[string]int, len(users))
	for user, level := range users {
		levels[strings.ToLower(user)] = level
	}
	m.levels = levels
}
