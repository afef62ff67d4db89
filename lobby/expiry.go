// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"container/heap"
	"context"
	"time"

	"github.com/muster-project/muster/lib/ref"
)

// expiryEntry is one scheduled sanction expiry.
type expiryEntry struct {
	at time.Time
	id int64
}

// expiryHeap is a min-heap of pending expiries ordered by deadline.
// Entries are not removed when a sanction is revoked or superseded —
// the fire path verifies each popped entry against the active table
// and skips the stale ones (lazy deletion).
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(expiryEntry))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// scheduleExpiry arms the single expiry timer for the earliest
// pending deadline, replacing whatever was armed before. A deadline
// already in the past signals the loop directly instead of arming a
// zero-delay timer.
func (s *Sanctions) scheduleExpiry() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.heap.Len() == 0 {
		return
	}

	delay := s.heap[0].at.Sub(s.clock.Now())
	if delay <= 0 {
		s.signalExpiry()
		return
	}
	s.timer = s.clock.AfterFunc(delay, s.signalExpiry)
}

// signalExpiry nudges the engine loop to run fireDueExpiries. The
// notify channel holds one token, so bursts of signals coalesce into
// one wakeup.
func (s *Sanctions) signalExpiry() {
	select {
	case s.timerNotify <- struct{}{}:
	default:
	}
}

// fireDueExpiries expires every sanction whose deadline has passed
// and re-arms the timer for the next one.
func (s *Sanctions) fireDueExpiries(ctx context.Context) {
	now := s.clock.Now()
	for s.heap.Len() > 0 && !s.heap[0].at.After(now) {
		entry := heap.Pop(&s.heap).(expiryEntry)
		sanction, ok := s.active[entry.id]
		if !ok || sanction.State != SanctionActive {
			// Revoked or superseded since it was scheduled.
			continue
		}
		s.expire(ctx, sanction)
	}
	s.scheduleExpiry()
}

// expire moves one sanction to Expired and lifts its enforcement. The
// in-memory state advances even if the store write fails: a lobby
// where the mute audibly expired but the row says Active resolves
// itself at the next startup scan, while the reverse would leave a
// player muted with no sanction to show for it.
func (s *Sanctions) expire(ctx context.Context, sanction *Sanction) {
	if err := s.store.UpdateSanctionState(ctx, sanction.ID, SanctionExpired, ref.UserID{}, "expired"); err != nil {
		s.logger.Error("persisting sanction expiry failed",
			"sanction", sanction.ID,
			"player", sanction.Player,
			"error", err,
		)
	}
	sanction.State = SanctionExpired
	s.removeActive(sanction)
	s.enactLifting(ctx, sanction)
	s.logger.Info("sanction expired",
		"sanction", sanction.ID,
		"player", sanction.Player,
		"kind", sanction.Kind.String(),
	)
}
