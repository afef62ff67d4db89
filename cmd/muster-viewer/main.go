// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// muster-viewer is a standalone terminal dashboard for the muster
// lobby service. Designed as a muster CLI plugin: `muster viewer`
// dispatches to this binary via PATH lookup.
//
// The viewer polls the service's admin socket (the same CBOR protocol
// the muster CLI uses) and shows announced games, the rating
// leaderboard, and the moderation log in a tabbed live view. An
// optional markdown file supplies a message of the day rendered above
// the games table.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/muster-project/muster/lib/lobbyui"
	"github.com/muster-project/muster/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var socketPath string
	var motdPath string
	var refresh time.Duration
	var logOutput string

	flagSet := pflag.NewFlagSet("muster-viewer", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", defaultSocketPath(), "path to the lobby service admin socket")
	flagSet.StringVar(&motdPath, "motd", "", "markdown file shown above the games table")
	flagSet.DurationVar(&refresh, "refresh", 5*time.Second, "poll interval for the admin socket")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file (in addition to the status bar)")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match the other muster
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("muster-viewer %s\n", version.Full())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	var motd string
	if motdPath != "" {
		data, err := os.ReadFile(motdPath)
		if err != nil {
			return fmt.Errorf("reading motd: %w", err)
		}
		motd = string(data)
	}

	// Background logging (socket fetch failures) routes through a
	// TUILogHandler that displays warnings in the status bar instead
	// of writing to stderr, which would corrupt the alt-screen
	// display. An optional file logger captures all records for
	// post-mortem debugging.
	tuiHandler := lobbyui.NewTUILogHandler(slog.LevelWarn)
	logger := slog.New(tuiHandler)
	if logOutput != "" {
		file, err := os.Create(logOutput)
		if err != nil {
			return fmt.Errorf("cannot open log file %s: %w", logOutput, err)
		}
		defer file.Close()
		fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger = slog.New(fanoutHandler{tuiHandler, fileHandler})
	}
	slog.SetDefault(logger)

	source := lobbyui.NewSocketSource(socketPath, 10*time.Second)
	model := lobbyui.NewModel(lobbyui.Config{
		Source:          source,
		MOTD:            motd,
		RefreshInterval: refresh,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	tuiHandler.SetProgram(program)

	_, err := program.Run()
	return err
}

// defaultSocketPath mirrors the muster CLI's socket resolution.
func defaultSocketPath() string {
	if path := os.Getenv("MUSTER_SOCKET"); path != "" {
		return path
	}
	return "/run/muster/lobby.sock"
}

// fanoutHandler is a slog.Handler that sends each record to multiple
// underlying handlers. A record is enabled if any sub-handler is
// enabled for that level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Muster lobby dashboard — live terminal view of the lobby service.

Polls the service's admin socket and shows announced games, the
rating leaderboard, and the moderation log. Keys: 1/2/3 switch tabs,
j/k move, / filters players fuzzily, r forces a refresh, q quits.

Usage:
  muster-viewer [flags]

Examples:
  # Watch the default socket
  muster-viewer

  # Watch a development service with a tournament banner
  muster-viewer --socket /tmp/muster-dev/lobby.sock --motd motd.md

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
