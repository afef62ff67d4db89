// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"strings"
	"testing"
	"time"

	"github.com/muster-project/muster/lib/ref"
)

func TestParseModCommand(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ModCommand
	}{
		{
			name: "mute with duration and reason",
			body: "!mute troll 2h spamming the lobby",
			want: ModCommand{Verb: "mute", Target: "troll", Duration: 2 * time.Hour, Reason: "spamming the lobby"},
		},
		{
			name: "permanent ban",
			body: "!ban @troll:arena.example perm repeated abuse",
			want: ModCommand{Verb: "ban", Target: "@troll:arena.example", Reason: "repeated abuse"},
		},
		{
			name: "unmute",
			body: "!unmute troll",
			want: ModCommand{Verb: "unmute", Target: "troll"},
		},
		{
			name: "kick with reason",
			body: "!kick troll cool off",
			want: ModCommand{Verb: "kick", Target: "troll", Reason: "cool off"},
		},
		{
			name: "resolve",
			body: "!resolve 42",
			want: ModCommand{Verb: "resolve", ReportID: 42},
		},
		{
			name: "mutelist",
			body: "!mutelist",
			want: ModCommand{Verb: "mutelist"},
		},
		{
			name: "bang optional and verb case-folded",
			body: "MUTE troll 7d reason",
			want: ModCommand{Verb: "mute", Target: "troll", Duration: 7 * 24 * time.Hour, Reason: "reason"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseModCommand(test.body)
			if err != nil {
				t.Fatalf("ParseModCommand(%q): %v", test.body, err)
			}
			if got != test.want {
				t.Errorf("got %+v, want %+v", got, test.want)
			}
		})
	}
}

func TestParseModCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		errPart string
	}{
		{"empty", "!", "known commands"},
		{"unknown verb", "!frobnicate troll", "unknown command"},
		{"mute missing reason", "!mute troll 2h", "usage: !mute"},
		{"bad duration", "!mute troll soon spamming", "bad duration"},
		{"unmute extra args", "!unmute troll now", "usage: !unmute"},
		{"resolve non-numeric", "!resolve abc", "bad report id"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseModCommand(test.body)
			if err == nil {
				t.Fatalf("ParseModCommand(%q) succeeded, want error", test.body)
			}
			if !strings.Contains(err.Error(), test.errPart) {
				t.Errorf("error %q does not mention %q", err, test.errPart)
			}
		})
	}
}

func TestParseSanctionDuration(t *testing.T) {
	tests := []struct {
		argument string
		want     time.Duration
	}{
		{"perm", 0},
		{"Forever", 0},
		{"0", 0},
		{"30m", 30 * time.Minute},
		{"2h30m", 2*time.Hour + 30*time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
	}
	for _, test := range tests {
		got, err := ParseSanctionDuration(test.argument)
		if err != nil {
			t.Errorf("ParseSanctionDuration(%q): %v", test.argument, err)
			continue
		}
		if got != test.want {
			t.Errorf("ParseSanctionDuration(%q) = %v, want %v", test.argument, got, test.want)
		}
	}

	for _, bad := range []string{"soon", "-2h", "-3d", "0x5"} {
		if _, err := ParseSanctionDuration(bad); err == nil {
			t.Errorf("ParseSanctionDuration(%q) succeeded, want error", bad)
		}
	}
}

func TestFormatSanctionDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{0, "permanently"},
		{30 * time.Minute, "for 30m"},
		{2*time.Hour + 30*time.Minute, "for 2h30m"},
		{7 * 24 * time.Hour, "for 7d"},
		{25 * time.Hour, "for 1d1h"},
	}
	for _, test := range tests {
		if got := formatSanctionDuration(test.duration); got != test.want {
			t.Errorf("formatSanctionDuration(%v) = %q, want %q", test.duration, got, test.want)
		}
	}
}

func TestStripAddress(t *testing.T) {
	tests := []struct {
		body      string
		rest      string
		addressed bool
	}{
		{"muster: games", "games", true},
		{"Muster, what games are up", "what games are up", true},
		{"muster games", "games", true},
		{"mustermind: games", "", false},
		{"hello everyone", "", false},
	}
	for _, test := range tests {
		rest, addressed := stripAddress(test.body, "muster")
		if addressed != test.addressed {
			t.Errorf("stripAddress(%q) addressed = %v, want %v", test.body, addressed, test.addressed)
			continue
		}
		if addressed && rest != test.rest {
			t.Errorf("stripAddress(%q) rest = %q, want %q", test.body, rest, test.rest)
		}
	}
}

func TestModeratorSet(t *testing.T) {
	configured := testUser(t, "@operator:arena.example")
	set := NewModeratorSet([]ref.UserID{configured}, 0)

	if !set.IsModerator(testUser(t, "@OPERATOR:arena.example")) {
		t.Error("configured moderator not recognized case-insensitively")
	}
	if set.IsModerator(testUser(t, "@alice:arena.example")) {
		t.Error("unprivileged user recognized as moderator")
	}

	set.ApplyPowerLevels(map[string]int{
		"@alice:arena.example": 50,
		"@bob:arena.example":   10,
	})
	if !set.IsModerator(testUser(t, "@alice:arena.example")) {
		t.Error("power level 50 did not confer moderator standing")
	}
	if set.IsModerator(testUser(t, "@bob:arena.example")) {
		t.Error("power level 10 conferred moderator standing")
	}

	// A fresh power-levels event replaces the previous one: demotion
	// takes effect immediately.
	set.ApplyPowerLevels(map[string]int{"@bob:arena.example": 100})
	if set.IsModerator(testUser(t, "@alice:arena.example")) {
		t.Error("demoted user kept moderator standing")
	}
	if !set.IsModerator(configured) {
		t.Error("configured moderator lost standing to a room event")
	}
}
