// Package config loads runtime configuration for the lettera client and
// manages the key-derivation parameters file kept in the data directory.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with --config.
//  3. Command-line flags explicitly set by the user.
//
// # JSON schema
//
// Durations accept either strings like "5s" or integer nanoseconds:
//
//	{
//	  "dir": "/home/me/.lettera",
//	  "log_format": "json",
//	  "debug": false,
//	  "queue_capacity": 8,
//	  "sync_interval": "5s",
//	  "sync_max_interval": "10m",
//	  "transport_timeout": "30s"
//	}
//
// # Parameters file
//
// params.toml holds the Argon2id parameters. It is written once on first
// run and must never be regenerated, since every key depends on it:
//
//	[argon2]
//	salt = "base64..."
//	iterations = 26
//	memory_kb = 65536
//	parallelism = 4
package config
