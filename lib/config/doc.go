// Copyright 2026 The Muster Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for muster components.
//
// Configuration is loaded from a single YAML file specified by:
//   - the MUSTER_CONFIG environment variable, or
//   - a --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment
// variables never override config values; the only expansion
// performed is ${VAR} and ${VAR:-default} inside path fields, so one
// file can serve multiple hosts.
//
// The file may contain environment-specific sections (development,
// staging, production) whose values override the base config when the
// `environment` field matches. Production applies stricter defaults
// when no explicit production section exists.
package config
