// Package config loads the settings shared by the gateway and worker
// binaries. Values come from defaults, an optional config.yaml and VISTA_*
// environment variables, and are validated before any backend is opened.
package config
