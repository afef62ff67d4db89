// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/muster-project/muster/cmd/muster/cli"
	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/secret"
)

func evidenceCommand() *cli.Command {
	return &cli.Command{
		Name:    "evidence",
		Summary: "Work with the encrypted evidence archive",
		Description: `Offline tooling for the service's evidence archive.

Report evidence is stored content-addressed and encrypted under a
master key held by the service. The key is escrowed (age-sealed) to
the moderator roster at generation time, so evidence stays readable
even if the service host is lost: recover the key from the escrow
with a moderator's age identity, then read entries directly from the
archive directory.`,
		Subcommands: []*cli.Command{
			evidenceRecoverKeyCommand(),
			evidenceGetCommand(),
			evidenceListCommand(),
		},
	}
}

func evidenceRecoverKeyCommand() *cli.Command {
	var escrowFile string
	var identityFile string
	return &cli.Command{
		Name:    "recover-key",
		Summary: "Recover the archive master key from its escrow",
		Usage:   "muster evidence recover-key --escrow <file> --identity <file>",
		Examples: []cli.Example{
			{
				Description: "Recover with a moderator's age identity",
				Command:     "muster evidence recover-key --escrow archive.key.escrow --identity ~/.config/age/mod.txt > archive.key",
			},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("recover-key", pflag.ContinueOnError)
			flags.StringVar(&escrowFile, "escrow", "", "path to the escrow file written next to the service's archive key")
			flags.StringVar(&identityFile, "identity", "", "path to an age identity file for one of the escrow recipients")
			return flags
		},
		Run: func(args []string) error {
			if escrowFile == "" || identityFile == "" {
				return fmt.Errorf("--escrow and --identity are required")
			}
			escrowData, err := os.ReadFile(escrowFile)
			if err != nil {
				return fmt.Errorf("reading escrow: %w", err)
			}
			identity, err := secret.ReadFromPath(identityFile)
			if err != nil {
				return fmt.Errorf("reading identity: %w", err)
			}
			defer identity.Close()

			key, err := archive.RecoverKey(strings.TrimSpace(string(escrowData)), identity)
			if err != nil {
				return fmt.Errorf("recovering key: %w", err)
			}
			defer key.Close()

			// Hex to stdout, same encoding the service uses on disk.
			fmt.Println(hex.EncodeToString(key.Bytes()))
			return nil
		},
	}
}

func evidenceGetCommand() *cli.Command {
	var archiveDir string
	var keyFile string
	return &cli.Command{
		Name:    "get",
		Summary: "Decrypt one archive entry to stdout",
		Usage:   "muster evidence get <ref> --archive <dir> --key <file>",
		Flags:   evidenceArchiveFlags("get", &archiveDir, &keyFile),
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one entry ref is required\n\nUsage: muster evidence get <ref>")
			}
			store, err := openEvidenceArchive(archiveDir, keyFile)
			if err != nil {
				return err
			}
			defer store.Close()

			ref, err := archive.ParseRef(args[0])
			if err != nil {
				return err
			}
			payload, err := store.Get(ref)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(payload)
			return err
		},
	}
}

func evidenceListCommand() *cli.Command {
	var archiveDir string
	var keyFile string
	return &cli.Command{
		Name:    "list",
		Summary: "List archive entry refs",
		Usage:   "muster evidence list --archive <dir> --key <file>",
		Flags:   evidenceArchiveFlags("list", &archiveDir, &keyFile),
		Run: func(args []string) error {
			store, err := openEvidenceArchive(archiveDir, keyFile)
			if err != nil {
				return err
			}
			defer store.Close()

			refs, err := store.Refs()
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Println(ref)
			}
			return nil
		},
	}
}

func evidenceArchiveFlags(name string, archiveDir, keyFile *string) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flags.StringVar(archiveDir, "archive", "", "path to the archive directory")
		flags.StringVar(keyFile, "key", "", "path to the hex-encoded master key file")
		return flags
	}
}

// openEvidenceArchive opens an archive directory read-side with a
// hex-encoded key file (the service's on-disk format, or the output
// of recover-key).
func openEvidenceArchive(archiveDir, keyFile string) (*archive.Archive, error) {
	if archiveDir == "" || keyFile == "" {
		return nil, fmt.Errorf("--archive and --key are required")
	}
	encoded, err := secret.ReadFromPath(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}
	raw, err := hex.DecodeString(encoded.String())
	encoded.Close()
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, err
	}
	// Compression only affects writes; reads use each entry's own tag.
	return archive.Open(archiveDir, key, archive.CompressionNone)
}
