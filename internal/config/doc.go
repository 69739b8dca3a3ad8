// Package config loads, validates and hot-reloads the proxywatch
// configuration.
//
// The file may be JSON or YAML; unknown fields are rejected. Secrets are
// usually supplied through the environment (IP_TOKEN, TG_TOKEN, TG_CHAT),
// optionally from a .env file.
package config
