// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/muster-project/muster/lib/secret"
	"github.com/muster-project/muster/lib/service"
	"github.com/muster-project/muster/messaging"
)

// SessionDir returns the directory holding the operator's
// session.json: $MUSTER_SESSION_DIR if set, else
// $XDG_CONFIG_HOME/muster, else ~/.config/muster.
func SessionDir() (string, error) {
	if dir := os.Getenv("MUSTER_SESSION_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "muster"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "muster"), nil
}

// LoadOperatorSession loads the saved operator session. Callers own
// the returned session and must Close it.
func LoadOperatorSession(logger *slog.Logger) (*messaging.DirectSession, error) {
	dir, err := SessionDir()
	if err != nil {
		return nil, err
	}
	_, session, err := service.LoadSession(dir, "", logger)
	if err != nil {
		return nil, fmt.Errorf("no saved session (run 'muster login' first): %w", err)
	}
	return session, nil
}

// OperatorUserID returns the saved session's user ID, or "" when the
// operator has not logged in. Used to attribute socket mutations; the
// admin socket is already access-controlled by filesystem permissions,
// so a missing session is not an error — the service attributes the
// action to itself.
func OperatorUserID() string {
	dir, err := SessionDir()
	if err != nil {
		return ""
	}
	raw, err := os.ReadFile(filepath.Join(dir, "session.json"))
	if err != nil {
		return ""
	}
	var data service.SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		secret.Zero(raw)
		return ""
	}
	secret.Zero(raw)
	return data.UserID
}
