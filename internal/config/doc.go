// Package config provides 12-factor configuration management for shmux.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: control API settings (listen address)
//   - Mux: session limits, signal queue depth, scrollback size
//   - Shell: default terminal geometry and shell config file path
//   - Logging: log level and output format
//   - RateLimit: per-client rate limiting for the control API
package config
