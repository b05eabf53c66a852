// Package config loads, normalizes, and validates photoscan configuration.
//
// Configuration lives in TOML (see sample_config.toml) and is parsed into
// the Config struct, which exposes helpers for expanded paths, tool
// locations and pipeline timing. Load searches an explicit --config path,
// then ~/.config/photoscan/config.toml, then ./photoscan.toml, and applies
// defaults for anything unset.
//
// Use CreateSample to bootstrap a config file and EnsureDirectories before
// starting the daemon so the uploads, state and log directories exist.
package config
