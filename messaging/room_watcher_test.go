// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/muster-project/muster/lib/ref"
)

func TestWatchRoomRequiresRoomID(t *testing.T) {
	_, session := newTestSession(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("server should not be called")
	}))

	_, err := WatchRoom(context.Background(), session, ref.RoomID{}, nil)
	if err == nil {
		t.Fatal("expected error for zero room ID")
	}
}

func TestWatchRoomAnchorsAtCurrentPosition(t *testing.T) {
	callCount := 0
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assertAuth(t, request, "test-token")
		callCount++
		query := request.URL.Query()

		switch callCount {
		case 1:
			// Anchor sync: immediate return, no since token.
			if query.Get("timeout") != "0" {
				t.Errorf("anchor sync timeout = %q, want 0", query.Get("timeout"))
			}
			if query.Get("since") != "" {
				t.Errorf("anchor sync should not carry a since token, got %q", query.Get("since"))
			}
			if !strings.Contains(query.Get("filter"), "!room1:local") {
				t.Errorf("filter should scope to the watched room: %s", query.Get("filter"))
			}
			writeJSON(writer, map[string]any{"next_batch": "s1"})
		case 2:
			// Long poll from the anchored position.
			if query.Get("since") != "s1" {
				t.Errorf("long poll since = %q, want s1", query.Get("since"))
			}
			if query.Get("timeout") != "30000" {
				t.Errorf("long poll timeout = %q, want 30000", query.Get("timeout"))
			}
			writeJSON(writer, map[string]any{
				"next_batch": "s2",
				"rooms": map[string]any{
					"join": map[string]any{
						"!room1:local": map[string]any{
							"timeline": map[string]any{
								"events": []map[string]any{
									{"event_id": "$evt1", "type": "m.room.message", "sender": "@alice:local"},
								},
							},
						},
					},
				},
			})
		default:
			t.Fatalf("unexpected sync call %d", callCount)
		}
	}))

	watcher, err := WatchRoom(context.Background(), session, testRoomID(t, "!room1:local"), nil)
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}
	if watcher.SyncPosition() != "s1" {
		t.Errorf("SyncPosition = %q, want s1", watcher.SyncPosition())
	}
	if watcher.RoomID().String() != "!room1:local" {
		t.Errorf("RoomID = %s, want !room1:local", watcher.RoomID())
	}

	event, err := watcher.WaitForEvent(context.Background(), func(event Event) bool {
		return event.Type == "m.room.message"
	})
	if err != nil {
		t.Fatalf("WaitForEvent failed: %v", err)
	}
	if event.EventID != "$evt1" {
		t.Errorf("unexpected event ID: %s", event.EventID)
	}
	if watcher.SyncPosition() != "s2" {
		t.Errorf("SyncPosition after event = %q, want s2", watcher.SyncPosition())
	}
}

func TestWaitForEventBuffersBatch(t *testing.T) {
	// A single sync batch delivers two matching events. The first
	// WaitForEvent consumes one; the second must find the other in the
	// pending buffer without issuing another sync.
	callCount := 0
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount++
		switch callCount {
		case 1:
			writeJSON(writer, map[string]any{"next_batch": "s1"})
		case 2:
			writeJSON(writer, map[string]any{
				"next_batch": "s2",
				"rooms": map[string]any{
					"join": map[string]any{
						"!room1:local": map[string]any{
							"timeline": map[string]any{
								"events": []map[string]any{
									{"event_id": "$evt1", "type": "m.room.message", "sender": "@alice:local"},
									{"event_id": "$evt2", "type": "m.room.message", "sender": "@bob:local"},
								},
							},
						},
					},
				},
			})
		default:
			t.Fatalf("unexpected sync call %d: batched event should come from pending", callCount)
		}
	}))

	watcher, err := WatchRoom(context.Background(), session, testRoomID(t, "!room1:local"), nil)
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}

	isMessage := func(event Event) bool { return event.Type == "m.room.message" }

	first, err := watcher.WaitForEvent(context.Background(), isMessage)
	if err != nil {
		t.Fatalf("first WaitForEvent failed: %v", err)
	}
	if first.EventID != "$evt1" {
		t.Errorf("first event = %s, want $evt1", first.EventID)
	}

	second, err := watcher.WaitForEvent(context.Background(), isMessage)
	if err != nil {
		t.Fatalf("second WaitForEvent failed: %v", err)
	}
	if second.EventID != "$evt2" {
		t.Errorf("second event = %s, want $evt2", second.EventID)
	}
	if callCount != 2 {
		t.Errorf("sync called %d times, want 2 (second event from pending buffer)", callCount)
	}
}

func TestWaitForEventSkipsNonMatching(t *testing.T) {
	callCount := 0
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount++
		switch callCount {
		case 1:
			writeJSON(writer, map[string]any{"next_batch": "s1"})
		case 2:
			// State event first, then the message the predicate wants.
			writeJSON(writer, map[string]any{
				"next_batch": "s2",
				"rooms": map[string]any{
					"join": map[string]any{
						"!room1:local": map[string]any{
							"state": map[string]any{
								"events": []map[string]any{
									{"event_id": "$member", "type": "m.room.member", "sender": "@alice:local", "state_key": "@alice:local"},
								},
							},
							"timeline": map[string]any{
								"events": []map[string]any{
									{"event_id": "$msg", "type": "m.room.message", "sender": "@alice:local"},
								},
							},
						},
					},
				},
			})
		default:
			t.Fatalf("unexpected sync call %d", callCount)
		}
	}))

	watcher, err := WatchRoom(context.Background(), session, testRoomID(t, "!room1:local"), nil)
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}

	event, err := watcher.WaitForEvent(context.Background(), func(event Event) bool {
		return event.Type == "m.room.message"
	})
	if err != nil {
		t.Fatalf("WaitForEvent failed: %v", err)
	}
	if event.EventID != "$msg" {
		t.Errorf("got %s, want $msg", event.EventID)
	}

	// The non-matching member event stays pending for a later waiter.
	member, err := watcher.WaitForEvent(context.Background(), func(event Event) bool {
		return event.Type == "m.room.member"
	})
	if err != nil {
		t.Fatalf("WaitForEvent for member failed: %v", err)
	}
	if member.EventID != "$member" {
		t.Errorf("got %s, want $member", member.EventID)
	}
	if callCount != 2 {
		t.Errorf("sync called %d times, want 2", callCount)
	}
}

func TestWaitForEventRetriesAfterSyncError(t *testing.T) {
	callCount := 0
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount++
		query := request.URL.Query()
		switch callCount {
		case 1:
			writeJSON(writer, map[string]any{"next_batch": "s1"})
		case 2:
			http.Error(writer, "gateway timeout", http.StatusGatewayTimeout)
		case 3:
			// Retry uses the short server-side timeout.
			if query.Get("timeout") != "1000" {
				t.Errorf("retry timeout = %q, want 1000", query.Get("timeout"))
			}
			writeJSON(writer, map[string]any{
				"next_batch": "s2",
				"rooms": map[string]any{
					"join": map[string]any{
						"!room1:local": map[string]any{
							"timeline": map[string]any{
								"events": []map[string]any{
									{"event_id": "$evt1", "type": "m.room.message", "sender": "@alice:local"},
								},
							},
						},
					},
				},
			})
		default:
			t.Fatalf("unexpected sync call %d", callCount)
		}
	}))

	watcher, err := WatchRoom(context.Background(), session, testRoomID(t, "!room1:local"), nil)
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}

	event, err := watcher.WaitForEvent(context.Background(), func(event Event) bool {
		return event.Type == "m.room.message"
	})
	if err != nil {
		t.Fatalf("WaitForEvent should survive a transient sync error: %v", err)
	}
	if event.EventID != "$evt1" {
		t.Errorf("unexpected event ID: %s", event.EventID)
	}
}

func TestWaitForEventGivesUpAfterRepeatedErrors(t *testing.T) {
	callCount := 0
	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount++
		if callCount == 1 {
			writeJSON(writer, map[string]any{"next_batch": "s1"})
			return
		}
		http.Error(writer, "unavailable", http.StatusServiceUnavailable)
	}))

	watcher, err := WatchRoom(context.Background(), session, testRoomID(t, "!room1:local"), nil)
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}

	_, err = watcher.WaitForEvent(context.Background(), func(Event) bool { return true })
	if err == nil {
		t.Fatal("expected error after repeated sync failures")
	}
	if !strings.Contains(err.Error(), "sync failed") {
		t.Errorf("unexpected error: %v", err)
	}
	// Anchor + initial attempt + maxSyncRetries retries.
	if callCount != 2+maxSyncRetries {
		t.Errorf("sync called %d times, want %d", callCount, 2+maxSyncRetries)
	}
}

func TestWaitForEventContextCancelled(t *testing.T) {
	callCount := 0
	cancelCtx, cancel := context.WithCancel(context.Background())

	_, session := newTestSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount++
		if callCount == 1 {
			writeJSON(writer, map[string]any{"next_batch": "s1"})
			return
		}
		// Cancel while the long poll is in flight.
		cancel()
		writeJSON(writer, map[string]any{"next_batch": "s2"})
	}))

	watcher, err := WatchRoom(context.Background(), session, testRoomID(t, "!room1:local"), nil)
	if err != nil {
		t.Fatalf("WatchRoom failed: %v", err)
	}

	_, err = watcher.WaitForEvent(cancelCtx, func(Event) bool { return true })
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if !strings.Contains(err.Error(), "context cancelled") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBuildInlineFilter(t *testing.T) {
	roomID := testRoomID(t, "!room1:local")

	decode := func(t *testing.T, raw string) map[string]any {
		t.Helper()
		var filter map[string]any
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			t.Fatalf("filter is not valid JSON: %v", err)
		}
		return filter
	}

	t.Run("nil filter scopes to the room", func(t *testing.T) {
		filter := decode(t, buildInlineFilter(roomID, nil))

		room, ok := filter["room"].(map[string]any)
		if !ok {
			t.Fatal("filter has no room section")
		}
		rooms, ok := room["rooms"].([]any)
		if !ok || len(rooms) != 1 || rooms[0] != "!room1:local" {
			t.Errorf("room scoping = %v, want [!room1:local]", room["rooms"])
		}
		if _, hasTimeline := room["timeline"]; hasTimeline {
			t.Error("nil filter should not restrict timeline")
		}
		if _, hasState := room["state"]; hasState {
			t.Error("nil filter should not restrict state")
		}

		// Presence and account data are always muted: watchers care
		// about room events only.
		for _, section := range []string{"presence", "account_data"} {
			muted, ok := filter[section].(map[string]any)
			if !ok {
				t.Fatalf("filter has no %s section", section)
			}
			types, ok := muted["types"].([]any)
			if !ok || len(types) != 0 {
				t.Errorf("%s types = %v, want []", section, muted["types"])
			}
		}
	})

	t.Run("timeline types and limit", func(t *testing.T) {
		filter := decode(t, buildInlineFilter(roomID, &SyncFilter{
			TimelineTypes: []string{"m.room.message"},
			TimelineLimit: 10,
		}))

		room := filter["room"].(map[string]any)
		timeline, ok := room["timeline"].(map[string]any)
		if !ok {
			t.Fatal("filter has no timeline section")
		}
		types, ok := timeline["types"].([]any)
		if !ok || len(types) != 1 || types[0] != "m.room.message" {
			t.Errorf("timeline types = %v, want [m.room.message]", timeline["types"])
		}
		if limit, ok := timeline["limit"].(float64); !ok || limit != 10 {
			t.Errorf("timeline limit = %v, want 10", timeline["limit"])
		}
	})

	t.Run("exclude state", func(t *testing.T) {
		filter := decode(t, buildInlineFilter(roomID, &SyncFilter{ExcludeState: true}))

		room := filter["room"].(map[string]any)
		state, ok := room["state"].(map[string]any)
		if !ok {
			t.Fatal("filter has no state section")
		}
		types, ok := state["types"].([]any)
		if !ok || len(types) != 0 {
			t.Errorf("state types = %v, want [] (state suppressed)", state["types"])
		}
	})
}
