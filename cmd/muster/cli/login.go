// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/muster-project/muster/lib/secret"
	"github.com/muster-project/muster/lib/service"
	"github.com/muster-project/muster/messaging"
)

// LoginCommand returns the "login" command for authenticating an
// operator. It performs a Matrix login, verifies the session via
// WhoAmI, and saves the result to the session directory. Subsequent
// commands load it transparently to attribute moderation actions.
func LoginCommand() *Command {
	var homeserverURL string
	var passwordFile string

	return &Command{
		Name:    "login",
		Summary: "Authenticate as an operator",
		Description: `Log in to the homeserver and save the session locally.

Moderation commands issued over the admin socket are attributed to the
logged-in operator. The session file is stored under the muster config
directory ($MUSTER_SESSION_DIR, $XDG_CONFIG_HOME/muster, or
~/.config/muster) with mode 0600 since it contains an access token.

The password can be provided via --password-file or prompted
interactively when the flag is "-" or omitted.`,
		Usage: "muster login <username> [flags]",
		Examples: []Example{
			{
				Description: "Log in interactively (prompts for password)",
				Command:     "muster login operator",
			},
			{
				Description: "Log in against an explicit homeserver",
				Command:     "muster login operator --homeserver https://matrix.arena.example.org",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
			flags.StringVar(&homeserverURL, "homeserver", "http://localhost:6167", "Matrix homeserver URL")
			flags.StringVar(&passwordFile, "password-file", "", "path to a file containing the password, or - to prompt (default: prompt)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("username is required\n\nUsage: muster login <username> [flags]")
			}
			username := args[0]
			if len(args) > 1 {
				return fmt.Errorf("unexpected argument: %s", args[1])
			}

			password, err := readLoginPassword(passwordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, err := messaging.NewClient(messaging.ClientConfig{
				HomeserverURL: homeserverURL,
			})
			if err != nil {
				return fmt.Errorf("create matrix client: %w", err)
			}

			session, err := client.Login(ctx, username, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			defer session.Close()

			// Verify the session works before saving.
			userID, err := session.WhoAmI(ctx)
			if err != nil {
				return fmt.Errorf("session verification failed: %w", err)
			}

			dir, err := SessionDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
			if err := service.SaveSession(dir, homeserverURL, session); err != nil {
				return fmt.Errorf("save session: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Logged in as %s\n", userID)
			fmt.Fprintf(os.Stderr, "Session saved to %s\n", dir)
			return nil
		},
	}
}

// WhoAmICommand returns the "whoami" command, which validates the
// saved session against the homeserver.
func WhoAmICommand() *Command {
	return &Command{
		Name:    "whoami",
		Summary: "Show the logged-in operator",
		Usage:   "muster whoami",
		Run: func(args []string) error {
			session, err := LoadOperatorSession(nil)
			if err != nil {
				return err
			}
			defer session.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			userID, err := service.ValidateSession(ctx, session)
			if err != nil {
				return err
			}
			fmt.Println(userID)
			return nil
		},
	}
}

// readLoginPassword reads a password for the login command. Empty or
// "-" prompts interactively with echo disabled.
func readLoginPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" && passwordFile != "-" {
		return secret.ReadFromPath(passwordFile)
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, fmt.Errorf("no terminal available for interactive password prompt (use --password-file)")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}

	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}
