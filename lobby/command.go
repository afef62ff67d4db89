// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ModCommand is a parsed moderation chat command.
type ModCommand struct {
	// Verb is the lowercased command word: mute, unmute, ban, unban,
	// kick, warn, report, resolve, mutelist, banlist.
	Verb string

	// Target is the raw player argument — a full user ID or a bare
	// localpart. Empty for list verbs and resolve.
	Target string

	// Duration applies to mute and ban. Zero means permanent.
	Duration time.Duration

	// Reason is the free-text remainder for mute, ban, kick, warn, and
	// report.
	Reason string

	// ReportID is the report number for resolve.
	ReportID int64
}

var modCommandUsage = map[string]string{
	"mute":     "!mute <player> <duration> <reason>",
	"unmute":   "!unmute <player>",
	"ban":      "!ban <player> <duration> <reason>",
	"unban":    "!unban <player>",
	"kick":     "!kick <player> <reason>",
	"warn":     "!warn <player> <reason>",
	"report":   "!report <player> <text>",
	"resolve":  "!resolve <report-id>",
	"mutelist": "!mutelist",
	"banlist":  "!banlist",
}

// modCommandVerbs lists the known verbs in help order.
var modCommandVerbs = []string{
	"mute", "unmute", "ban", "unban", "kick",
	"warn", "report", "resolve", "mutelist", "banlist",
}

// IsModCommand reports whether body looks like a moderation command
// (leading bang). A true result does not mean the command parses.
func IsModCommand(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), "!")
}

// ParseModCommand parses a moderation command in the chat grammar.
// The leading bang is optional, so structured muster.modcmd payloads
// and typed chat text share the parser. Errors are phrased for direct
// use as a chat reply, usage string included.
func ParseModCommand(body string) (ModCommand, error) {
	text := strings.TrimSpace(body)
	text = strings.TrimPrefix(text, "!")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ModCommand{}, fmt.Errorf("empty command — known commands: %s", strings.Join(modCommandVerbs, ", "))
	}

	command := ModCommand{Verb: strings.ToLower(fields[0])}
	usage, known := modCommandUsage[command.Verb]
	if !known {
		return ModCommand{}, fmt.Errorf("unknown command %q — known commands: %s", fields[0], strings.Join(modCommandVerbs, ", "))
	}
	arguments := fields[1:]

	switch command.Verb {
	case "mute", "ban":
		if len(arguments) < 3 {
			return ModCommand{}, fmt.Errorf("usage: %s", usage)
		}
		command.Target = arguments[0]
		duration, err := ParseSanctionDuration(arguments[1])
		if err != nil {
			return ModCommand{}, fmt.Errorf("bad duration %q: %v — usage: %s", arguments[1], err, usage)
		}
		command.Duration = duration
		command.Reason = strings.Join(arguments[2:], " ")

	case "unmute", "unban":
		if len(arguments) != 1 {
			return ModCommand{}, fmt.Errorf("usage: %s", usage)
		}
		command.Target = arguments[0]

	case "kick", "warn", "report":
		if len(arguments) < 2 {
			return ModCommand{}, fmt.Errorf("usage: %s", usage)
		}
		command.Target = arguments[0]
		command.Reason = strings.Join(arguments[1:], " ")

	case "resolve":
		if len(arguments) != 1 {
			return ModCommand{}, fmt.Errorf("usage: %s", usage)
		}
		id, err := strconv.ParseInt(arguments[0], 10, 64)
		if err != nil {
			return ModCommand{}, fmt.Errorf("bad report id %q — usage: %s", arguments[0], usage)
		}
		command.ReportID = id

	case "mutelist", "banlist":
		if len(arguments) != 0 {
			return ModCommand{}, fmt.Errorf("usage: %s", usage)
		}
	}

	return command, nil
}

// ParseSanctionDuration parses a sanction duration argument. Accepted
// forms: the words "perm", "permanent", and "forever" (and a bare
// "0"), which mean no expiry; whole days or weeks as "7d" or "2w";
// and anything time.ParseDuration takes ("90m", "2h30m"). Returns
// zero for a permanent sanction.
func ParseSanctionDuration(argument string) (time.Duration, error) {
	folded := strings.ToLower(strings.TrimSpace(argument))
	switch folded {
	case "perm", "permanent", "forever", "0":
		return 0, nil
	}

	if len(folded) > 1 {
		unit := folded[len(folded)-1]
		if unit == 'd' || unit == 'w' {
			count, err := strconv.Atoi(folded[:len(folded)-1])
			if err == nil {
				if count <= 0 {
					return 0, fmt.Errorf("duration must be positive")
				}
				days := count
				if unit == 'w' {
					days = count * 7
				}
				return time.Duration(days) * 24 * time.Hour, nil
			}
		}
	}

	duration, err := time.ParseDuration(folded)
	if err != nil {
		return 0, fmt.Errorf("want a duration like 30m, 2h, 7d, or perm")
	}
	if duration < 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return duration, nil
}

// formatSanctionDuration renders a duration for confirmation replies:
// "permanently" for zero, otherwise "for 7d", "for 2h30m", and so on.
func formatSanctionDuration(duration time.Duration) string {
	if duration <= 0 {
		return "permanently"
	}

	var parts []string
	if days := duration / (24 * time.Hour); days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
		duration -= days * 24 * time.Hour
	}
	if hours := duration / time.Hour; hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
		duration -= hours * time.Hour
	}
	if minutes := duration / time.Minute; minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
		duration -= minutes * time.Minute
	}
	if seconds := duration / time.Second; seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return "for " + strings.Join(parts, "")
}

// stripAddress removes a leading "name:" or "name," address from a
// chat line, reporting whether the line was addressed to name. The
// comparison is case-insensitive.
func stripAddress(body, name string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	if len(trimmed) <= len(name) {
		return body, false
	}
	if !strings.EqualFold(trimmed[:len(name)], name) {
		return body, false
	}
	rest := trimmed[len(name):]
	if rest[0] != ':' && rest[0] != ',' && rest[0] != ' ' {
		return body, false
	}
	return strings.TrimSpace(rest[1:]), true
}
