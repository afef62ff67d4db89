// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/muster-project/muster/cmd/muster/cli"
	"github.com/muster-project/muster/lib/lobbyapi"
)

func socketFlags(name string, socketPath *string) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flags.StringVar(socketPath, "socket", defaultSocketPath(), "path to the lobby service admin socket")
		return flags
	}
}

func statusCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "status",
		Summary: "Show lobby service liveness",
		Usage:   "muster status [flags]",
		Flags:   socketFlags("status", &socketPath),
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("service:       %s\n", status.UserID)
			fmt.Printf("room:          %s\n", status.Room)
			fmt.Printf("uptime:        %s\n", formatUptime(status.UptimeSeconds))
			fmt.Printf("active games:  %d\n", status.ActiveGames)
			if status.RatingsDegraded {
				fmt.Printf("ratings:       DEGRADED (read-only)\n")
			}
			if status.SanctionsDegraded {
				fmt.Printf("sanctions:     DEGRADED (read-only)\n")
			}
			return nil
		},
	}
}

func infoCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "info",
		Summary: "Show service build and configuration",
		Usage:   "muster info [flags]",
		Flags:   socketFlags("info", &socketPath),
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			info, err := client.Info(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("version:      %s\n", info.Version)
			fmt.Printf("service:      %s\n", info.UserID)
			fmt.Printf("room:         %s\n", info.Room)
			fmt.Printf("environment:  %s\n", info.Environment)
			fmt.Printf("socket:       %s\n", info.Socket)
			fmt.Printf("database:     %s\n", info.Database)
			fmt.Printf("archive:      %s\n", info.Archive)
			return nil
		},
	}
}

func gamesCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "games",
		Summary: "List announced game sessions",
		Usage:   "muster games [flags]",
		Flags:   socketFlags("games", &socketPath),
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			games, err := client.Games(ctx)
			if err != nil {
				return err
			}
			if len(games) == 0 {
				fmt.Println("no games announced")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "HOST\tSTATE\tPLAYERS\tANNOUNCED\tSTARTED")
			for _, game := range games {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					game.Host,
					game.State,
					len(game.Players),
					formatTime(game.CreatedAt),
					formatTime(game.StartedAt),
				)
			}
			return tw.Flush()
		},
	}
}

func topCommand() *cli.Command {
	var socketPath string
	var count int
	return &cli.Command{
		Name:    "top",
		Summary: "Show the rating leaderboard",
		Usage:   "muster top [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("top", pflag.ContinueOnError)
			flags.StringVar(&socketPath, "socket", defaultSocketPath(), "path to the lobby service admin socket")
			flags.IntVarP(&count, "count", "n", 10, "number of leaderboard entries")
			return flags
		},
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			entries, err := client.Top(ctx, count)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no rated players yet")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "#\tPLAYER\tRATING\tGAMES\tW/L")
			for i, entry := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%.0f\t%d\t%d/%d\n",
					i+1, entry.Player, entry.Rating, entry.GamesPlayed, entry.Wins, entry.Losses)
			}
			return tw.Flush()
		},
	}
}

func profileCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "profile",
		Summary: "Show one player's rating profile",
		Usage:   "muster profile <player> [flags]",
		Flags:   socketFlags("profile", &socketPath),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one player is required\n\nUsage: muster profile <player>")
			}
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			profile, err := client.Profile(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("player:   %s\n", profile.Player)
			fmt.Printf("rating:   %.0f (highest %.0f)\n", profile.Rating, profile.HighestRating)
			fmt.Printf("games:    %d (%d wins, %d losses)\n", profile.GamesPlayed, profile.Wins, profile.Losses)
			return nil
		},
	}
}

func mutelistCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "mutelist",
		Summary: "List active mutes",
		Usage:   "muster mutelist [flags]",
		Flags:   socketFlags("mutelist", &socketPath),
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			list, err := client.Mutelist(ctx)
			if err != nil {
				return err
			}
			return printSanctions(list, "nobody is muted")
		},
	}
}

func banlistCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "banlist",
		Summary: "List active bans",
		Usage:   "muster banlist [flags]",
		Flags:   socketFlags("banlist", &socketPath),
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			list, err := client.Banlist(ctx)
			if err != nil {
				return err
			}
			return printSanctions(list, "nobody is banned")
		},
	}
}

func reportsCommand() *cli.Command {
	var socketPath string
	return &cli.Command{
		Name:    "reports",
		Summary: "List open reports and warnings",
		Usage:   "muster reports [flags]",
		Flags:   socketFlags("reports", &socketPath),
		Run: func(args []string) error {
			client, ctx, cancel := dial(socketPath)
			defer cancel()
			reports, err := client.Reports(ctx)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Println("no open reports")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tREPORTED\tBY\tFILED\tEVIDENCE\tBODY")
			for _, report := range reports {
				by := report.Reporting
				if by == "" {
					by = "-"
				}
				evidence := "-"
				if report.EvidenceRef != "" {
					evidence = "yes"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					report.ID, report.Kind, report.Reported, by,
					formatTime(report.FiledAt), evidence, truncate(report.Body, 60))
			}
			return tw.Flush()
		},
	}
}

func printSanctions(list []lobbyapi.Sanction, empty string) error {
	if len(list) == 0 {
		fmt.Println(empty)
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tPLAYER\tEXPIRES\tBY\tREASON")
	for _, sanction := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			sanction.ID, sanction.Player, formatExpiry(sanction.ExpiresAt),
			sanction.IssuedBy, truncate(sanction.Reason, 60))
	}
	return tw.Flush()
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return d.Truncate(time.Second).String()
	}
}
