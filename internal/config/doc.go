// Package config handles configuration loading for redmine-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML when the file name ends
// in .toml) with environment variable expansion. A .env file next to the
// process is loaded by main before Load runs.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from REDMINE_BRIDGE_CONFIG
//  3. $XDG_CONFIG_HOME/redmine-bridge/config.yaml
//  4. ~/.config/redmine-bridge/config.yaml
//
// # Environment Variable Expansion
//
//	matrix:
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//	webhook:
//	  secret_token: "${SECRET_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Encrypted Values
//
// database.password may be written as "enc:<ciphertext>" (see the encrypt
// subcommand). It is decrypted once at startup; failure aborts the process.
//
// # Sections
//
//	matrix:     homeserver, user_id, access_token, allowed_rooms, e2ee
//	redmine:    url, admin_api_key, custom_field_id, priorities, timeout
//	cache:      backend (sqlite|redis), path, redis, token_ttl
//	database:   driver (mysql|postgres|sqlite), host, port, user, password, name
//	webhook:    addr, path, secret_token
//	logging:    level, format
//	metrics:    enabled, path
package config
