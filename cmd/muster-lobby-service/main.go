// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Command muster-lobby-service is the lobby coordination daemon. It
// logs into the homeserver as the lobby service account, joins the
// arena room, and runs the three engines (game registry, ratings,
// sanctions) against the event stream. Operators reach it over the
// admin Unix socket with the muster CLI.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/muster-project/muster/lib/archive"
	"github.com/muster-project/muster/lib/clock"
	"github.com/muster-project/muster/lib/config"
	"github.com/muster-project/muster/lib/ratingpolicy"
	"github.com/muster-project/muster/lib/ref"
	"github.com/muster-project/muster/lib/secret"
	"github.com/muster-project/muster/lib/service"
	"github.com/muster-project/muster/lib/version"
	"github.com/muster-project/muster/lobby"
	"github.com/muster-project/muster/messaging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("lobby service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file (default: $MUSTER_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.Full())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return fmt.Errorf("preparing data directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	store, err := lobby.OpenStore(lobby.StoreConfig{
		Path:   cfg.Paths.Database,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	masterKey, err := loadOrCreateArchiveKey(cfg, logger)
	if err != nil {
		return fmt.Errorf("archive key: %w", err)
	}
	defer masterKey.Close()

	compression, err := archive.ParseCompressionTag(cfg.Archive.Compression)
	if err != nil {
		return fmt.Errorf("archive compression: %w", err)
	}
	evidence, err := archive.Open(cfg.Paths.Archive, masterKey, compression)
	if err != nil {
		return fmt.Errorf("opening evidence archive: %w", err)
	}

	var policy *ratingpolicy.Policy
	if cfg.Paths.RatingPolicy != "" {
		policy, err = ratingpolicy.ReadFile(cfg.Paths.RatingPolicy)
		if err != nil {
			return fmt.Errorf("rating policy: %w", err)
		}
		if issues := policy.Validate(); len(issues) > 0 {
			return fmt.Errorf("rating policy %s: %v", cfg.Paths.RatingPolicy, issues)
		}
		logger.Info("rating policy loaded", "path", cfg.Paths.RatingPolicy)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("homeserver client: %w", err)
	}

	selfID, err := ref.ParseUserID(cfg.Homeserver.UserID)
	if err != nil {
		return fmt.Errorf("homeserver.user_id: %w", err)
	}
	token, err := secret.ReadFromPath(cfg.Homeserver.AccessTokenFile)
	if err != nil {
		return fmt.Errorf("reading access token: %w", err)
	}
	session, err := client.SessionFromToken(selfID, token.String())
	token.Close()
	if err != nil {
		return fmt.Errorf("building session: %w", err)
	}

	whoami, err := service.ValidateSession(ctx, session)
	if err != nil {
		return fmt.Errorf("validating session: %w", err)
	}
	if !whoami.EqualFold(selfID) {
		return fmt.Errorf("access token belongs to %s, config says %s", whoami, selfID)
	}
	logger.Info("session validated", "user_id", whoami)

	alias, err := ref.ParseRoomAlias(cfg.Homeserver.LobbyAlias)
	if err != nil {
		return fmt.Errorf("homeserver.lobby_alias: %w", err)
	}
	room, err := session.ResolveAlias(ctx, alias)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", alias, err)
	}
	if _, err := session.JoinRoom(ctx, room); err != nil {
		return fmt.Errorf("joining %s: %w", room, err)
	}
	logger.Info("joined arena room", "alias", alias, "room_id", room)

	registry, err := lobby.NewRegistry(lobby.RegistryConfig{
		Capacity:   cfg.Registry.MaxGames,
		StaleAfter: cfg.IdleTimeout(),
		SweepEvery: cfg.SweepInterval(),
		Clock:      clk,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	sanctions, err := lobby.NewSanctions(lobby.SanctionsConfig{
		Store:           store,
		Enactor:         &roomEnactor{session: session, room: room},
		Archive:         evidence,
		Clock:           clk,
		Logger:          logger,
		MaxMuteDuration: cfg.MaxMuteDuration(),
	})
	if err != nil {
		return err
	}
	ratings, err := lobby.NewRatings(lobby.RatingsConfig{
		Store:               store,
		Sessions:            registry,
		Archive:             evidence,
		Policy:              policy,
		LeaderboardMinGames: cfg.Rating.LeaderboardMinGames,
		Clock:               clk,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	moderators := make([]ref.UserID, 0, len(cfg.Moderation.Moderators))
	for _, raw := range cfg.Moderation.Moderators {
		moderator, err := ref.ParseUserID(raw)
		if err != nil {
			return fmt.Errorf("moderation.moderators: %w", err)
		}
		moderators = append(moderators, moderator)
	}

	ingress, err := lobby.NewIngress(lobby.IngressConfig{
		Registry:   registry,
		Ratings:    ratings,
		Sanctions:  sanctions,
		Moderators: lobby.NewModeratorSet(moderators, 0),
		Session:    session,
		Room:       room,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	svc := &lobbyService{
		registry:  registry,
		ratings:   ratings,
		sanctions: sanctions,
		ingress:   ingress,
		session:   session,
		self:      whoami,
		room:      room,
		config:    cfg,
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
	}

	// Ratings and sanctions load persisted state inside Run; a load
	// failure surfaces here before any traffic is handled.
	engineErrs := make(chan error, 2)
	go registry.Run(ctx)
	go func() { engineErrs <- ratings.Run(ctx) }()
	go func() { engineErrs <- sanctions.Run(ctx) }()
	go ingress.Run(ctx)

	since, initial, err := service.InitialSync(ctx, session, syncFilter)
	if err != nil {
		return err
	}
	svc.seedFromInitialSync(ctx, initial)
	logger.Info("initial state seeded", "joined_rooms", len(initial.Rooms.Join))

	socketServer := service.NewSocketServer(cfg.Paths.Socket, logger)
	svc.registerActions(socketServer)
	socketDone := make(chan error, 1)
	go func() { socketDone <- socketServer.Serve(ctx) }()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		service.RunSyncLoop(ctx, session, service.SyncConfig{
			Filter:  syncFilter,
			Timeout: int(cfg.SyncTimeout().Milliseconds()),
		}, since, svc.handleSync, clk, logger)
	}()

	logger.Info("lobby service running",
		"version", version.Info(),
		"environment", cfg.Environment,
		"socket", cfg.Paths.Socket,
	)

	select {
	case <-ctx.Done():
	case err := <-engineErrs:
		if err != nil {
			return err
		}
	case err := <-socketDone:
		if err != nil {
			return fmt.Errorf("admin socket: %w", err)
		}
	}

	stop()
	<-syncDone
	logger.Info("lobby service stopped")
	return nil
}

// loadOrCreateArchiveKey loads the evidence archive master key from
// the data root, generating and persisting a fresh one on first run.
// The key is stored hex-encoded with a trailing newline so it survives
// the whitespace trimming that secret.ReadFromPath applies. When
// escrow recipients are configured, the key is also sealed to them and
// the escrow string written alongside, so moderators can recover
// evidence if the data root's key file is lost.
func loadOrCreateArchiveKey(cfg *config.Config, logger *slog.Logger) (*secret.Buffer, error) {
	keyPath := filepath.Join(cfg.Paths.Root, "archive.key")

	if _, err := os.Stat(keyPath); err == nil {
		encoded, err := secret.ReadFromPath(keyPath)
		if err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(encoded.String())
		encoded.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", keyPath, err)
		}
		key, err := secret.NewFromBytes(raw)
		if err != nil {
			return nil, err
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := archive.GenerateKey()
	if err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(key.Bytes())
	if err := os.WriteFile(keyPath, []byte(encoded+"\n"), 0o600); err != nil {
		key.Close()
		return nil, fmt.Errorf("persisting archive key: %w", err)
	}
	logger.Info("generated evidence archive key", "path", keyPath)

	if len(cfg.Moderation.EscrowRecipients) > 0 {
		escrow, err := archive.EscrowKey(key, cfg.Moderation.EscrowRecipients)
		if err != nil {
			key.Close()
			return nil, fmt.Errorf("escrowing archive key: %w", err)
		}
		escrowPath := keyPath + ".escrow"
		if err := os.WriteFile(escrowPath, []byte(escrow+"\n"), 0o644); err != nil {
			key.Close()
			return nil, fmt.Errorf("persisting key escrow: %w", err)
		}
		logger.Info("archive key escrowed",
			"path", escrowPath,
			"recipients", len(cfg.Moderation.EscrowRecipients),
		)
	}
	return key, nil
}
