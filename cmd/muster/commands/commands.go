// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the muster CLI command tree: operator login,
// lobby queries and moderation over the service's admin socket, and
// evidence archive tooling.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/muster-project/muster/cmd/muster/cli"
	"github.com/muster-project/muster/lib/lobbyapi"
	"github.com/muster-project/muster/lib/version"
)

// Root builds and returns the complete muster CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "muster",
		Description: `Muster: multiplayer lobby coordination on Matrix.

Query announced games, ratings, and moderation state, and issue
sanctions against the running lobby service.`,
		Subcommands: []*cli.Command{
			cli.LoginCommand(),
			cli.WhoAmICommand(),
			statusCommand(),
			infoCommand(),
			gamesCommand(),
			topCommand(),
			profileCommand(),
			mutelistCommand(),
			banlistCommand(),
			reportsCommand(),
			muteCommand(),
			unmuteCommand(),
			banCommand(),
			unbanCommand(),
			kickCommand(),
			warnCommand(),
			reportCommand(),
			resolveCommand(),
			evidenceCommand(),
			netcheckCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("muster %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// defaultSocketPath is where the lobby service listens unless
// overridden by $MUSTER_SOCKET or --socket.
func defaultSocketPath() string {
	if path := os.Getenv("MUSTER_SOCKET"); path != "" {
		return path
	}
	return "/run/muster/lobby.sock"
}

// dial returns a socket client and a bounded context for one command.
func dial(socketPath string) (*lobbyapi.Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	return lobbyapi.NewClient(socketPath), ctx, cancel
}

// formatTime renders a Unix-second timestamp for table output; zero
// renders as "-".
func formatTime(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// formatExpiry renders a sanction expiry; zero means permanent.
func formatExpiry(unix int64) string {
	if unix == 0 {
		return "permanent"
	}
	return formatTime(unix)
}
