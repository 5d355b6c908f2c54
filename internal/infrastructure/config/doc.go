// Package config loads server configuration.
//
// Values come from three layers, later ones winning:
//   - Default(): built-in production defaults
//   - CONFIG_FILE: optional YAML (.yaml/.yml) or TOML (.toml) overlay
//   - Environment variables, decoded with envconfig
//
// Durations are written as Go duration strings ("25s", "10m") in every layer.
package config
