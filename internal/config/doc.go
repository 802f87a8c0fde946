// Package config loads, validates, and normalizes Quill configuration.
//
// Configuration comes from a TOML file (default ~/.config/quill/config.toml
// or ./quill.toml), with environment overrides for secrets. Defaults live in
// defaults.go; validation rules in validate.go. Call EnsureDirectories before
// opening stores.
package config
