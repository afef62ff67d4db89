// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/muster-project/muster/cmd/muster/cli"
	"github.com/muster-project/muster/lib/netcheck"
	"github.com/muster-project/muster/messaging"
)

func netcheckCommand() *cli.Command {
	var timeout time.Duration
	var skipTURN bool
	return &cli.Command{
		Name:    "netcheck",
		Summary: "Probe whether this machine can host a game",
		Usage:   "muster netcheck [flags]",
		Description: `Probe hosting reachability before announcing a game.

Gathers ICE candidates against the homeserver's STUN/TURN servers and
reports whether peers outside your LAN would be able to join a game
hosted on this machine. TURN credentials come from the saved operator
session; without one (or with --no-turn) the probe runs against host
candidates only and can at best confirm LAN reachability.`,
		Examples: []cli.Example{
			{Description: "Check hosting reachability", Command: "muster netcheck"},
			{Description: "Probe without TURN, host candidates only", Command: "muster netcheck --no-turn"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("netcheck", pflag.ContinueOnError)
			flags.DurationVar(&timeout, "timeout", 15*time.Second, "candidate gathering bound")
			flags.BoolVar(&skipTURN, "no-turn", false, "skip TURN credentials, gather host candidates only")
			return flags
		},
		Run: func(args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
			defer cancel()

			var turn *messaging.TURNCredentialsResponse
			if !skipTURN {
				session, err := cli.LoadOperatorSession(nil)
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v; probing without TURN\n", err)
				} else {
					defer session.Close()
					turn, err = session.TURNCredentials(ctx)
					if err != nil {
						fmt.Fprintf(os.Stderr, "warning: TURN credentials unavailable: %v\n", err)
					}
				}
			}

			config := netcheck.ConfigFromTURN(turn)
			config.GatherTimeout = timeout
			report, err := netcheck.Probe(ctx, config)
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(writer, "CLASS\tPROTO\tADDRESS\tPORT\n")
			for _, candidate := range report.Candidates {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n",
					candidate.Class, candidate.Protocol, candidate.Address, candidate.Port)
			}
			writer.Flush()

			verdict := report.Verdict()
			fmt.Printf("\nverdict: %s (%s)\n", verdict, verdict.Description())
			fmt.Printf("gathered %d candidates in %s\n", len(report.Candidates), report.Elapsed.Round(time.Millisecond))
			if report.TimedOut {
				fmt.Println("gathering timed out; the verdict is a lower bound")
			}
			if !verdict.Hostable() {
				os.Exit(1)
			}
			return nil
		},
	}
}
