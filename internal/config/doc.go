// Package config loads and validates inbox server settings from environment
// variables (prefixed INBOX_) and an optional config.yaml in the working directory.
package config
