// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Command muster is the operator CLI for the lobby service: login,
// lobby queries, moderation, and evidence archive tooling.
package main

import (
	"fmt"
	"os"

	"github.com/muster-project/muster/cmd/muster/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
