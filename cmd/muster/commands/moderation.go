// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/muster-project/muster/cmd/muster/cli"
	"github.com/muster-project/muster/lib/lobbyapi"
)

func muteCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "mute",
		Summary: "Mute a player",
		Description: `Mute a player in the arena room.

The duration uses the chat grammar: Go durations ("30m", "2h30m"),
day and week units ("7d", "2w"), or "perm" for permanent. The sanction
is attributed to the logged-in operator.`,
		Usage: "muster mute <player> <duration> <reason> [flags]",
		Examples: []cli.Example{
			{Command: "muster mute troll 2h spamming the lobby"},
			{Command: "muster mute @troll:arena.example 7d repeat offender"},
		},
		Flags: socketFlags("mute", &socketPath),
		Run: func(args []string) error {
			if len(args) < 3 {
				return fmt.Errorf("player, duration, and reason are required\n\nUsage: muster mute <player> <duration> <reason>")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Mute(ctx, args[0], args[1], strings.Join(args[2:], " "), cli.OperatorUserID())
			if err != nil {
				return err
			}
			printSanctionResult("mute", result)
			return nil
		},
	}
}

func unmuteCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "unmute",
		Summary: "Lift a player's mute",
		Usage:   "muster unmute <player> [flags]",
		Flags:   socketFlags("unmute", &socketPath),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one player is required\n\nUsage: muster unmute <player>")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Unmute(ctx, args[0], cli.OperatorUserID())
			if err != nil {
				return err
			}
			printSanctionResult("unmute", result)
			return nil
		},
	}
}

func banCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "ban",
		Summary: "Ban a player",
		Usage:   "muster ban <player> <duration> <reason> [flags]",
		Examples: []cli.Example{
			{Command: "muster ban griefer perm wallhacks"},
		},
		Flags: socketFlags("ban", &socketPath),
		Run: func(args []string) error {
			if len(args) < 3 {
				return fmt.Errorf("player, duration, and reason are required\n\nUsage: muster ban <player> <duration> <reason>")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Ban(ctx, args[0], args[1], strings.Join(args[2:], " "), cli.OperatorUserID())
			if err != nil {
				return err
			}
			printSanctionResult("ban", result)
			return nil
		},
	}
}

func unbanCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "unban",
		Summary: "Lift a player's ban",
		Usage:   "muster unban <player> [flags]",
		Flags:   socketFlags("unban", &socketPath),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one player is required\n\nUsage: muster unban <player>")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Unban(ctx, args[0], cli.OperatorUserID())
			if err != nil {
				return err
			}
			printSanctionResult("unban", result)
			return nil
		},
	}
}

func kickCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "kick",
		Summary: "Kick a player from the arena room",
		Usage:   "muster kick <player> [reason] [flags]",
		Flags:   socketFlags("kick", &socketPath),
		Run: func(args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("player is required\n\nUsage: muster kick <player> [reason]")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Kick(ctx, args[0], strings.Join(args[1:], " "), cli.OperatorUserID())
			if err != nil {
				return err
			}
			printSanctionResult("kick", result)
			return nil
		},
	}
}

func warnCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "warn",
		Summary: "Warn a player and record it",
		Usage:   "muster warn <player> <text> [flags]",
		Flags:   socketFlags("warn", &socketPath),
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("player and warning text are required\n\nUsage: muster warn <player> <text>")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Warn(ctx, args[0], strings.Join(args[1:], " "), cli.OperatorUserID())
			if err != nil {
				return err
			}
			if result.Pending {
				fmt.Printf("warning #%d recorded (delivery pending, transport unavailable)\n", result.ID)
			} else {
				fmt.Printf("warning #%d recorded and delivered\n", result.ID)
			}
			return nil
		},
	}
}

func reportCommand() *cli.Command {
	var socketPath string
	var evidenceFile string
	return &cli.Command{
		Name:    "report",
		Summary: "File a report against a player",
		Description: `File a report against a player, optionally attaching an evidence
file (a chat log excerpt, a screenshot) that is stored encrypted in
the service's evidence archive.`,
		Usage: "muster report <player> <text> [flags]",
		Examples: []cli.Example{
			{Command: "muster report cheat aimbot in ranked game --evidence chatlog.txt"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("report", pflag.ContinueOnError)
			flags.StringVar(&socketPath, "socket", defaultSocketPath(), "path to the lobby service admin socket")
			flags.StringVar(&evidenceFile, "evidence", "", "path to an evidence file to archive with the report")
			return flags
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("player and report text are required\n\nUsage: muster report <player> <text>")
			}
			var evidence []byte
			if evidenceFile != "" {
				var err error
				evidence, err = os.ReadFile(evidenceFile)
				if err != nil {
					return fmt.Errorf("reading evidence: %w", err)
				}
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			result, err := client.Report(ctx, args[0], strings.Join(args[1:], " "), cli.OperatorUserID(), evidence)
			if err != nil {
				return err
			}
			fmt.Printf("report #%d filed\n", result.ID)
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "resolve",
		Summary: "Mark a report resolved",
		Usage:   "muster resolve <report-id> [flags]",
		Flags:   socketFlags("resolve", &socketPath),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one report id is required\n\nUsage: muster resolve <report-id>")
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad report id %q", args[0])
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			if err := client.Resolve(ctx, id); err != nil {
				return err
			}
			fmt.Printf("report #%d resolved\n", id)
			return nil
		},
	}
}

func printSanctionResult(action string, result lobbyapi.SanctionResult) {
	if result.Pending {
		fmt.Printf("%s #%d committed (room enforcement pending, transport unavailable)\n", action, result.ID)
		return
	}
	fmt.Printf("%s #%d applied\n", action, result.ID)
}
