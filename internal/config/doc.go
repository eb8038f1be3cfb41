// Package config handles configuration loading, parsing, and validation
// from defaults, an optional config file and ORBDASH_ environment variables.
// Environment variables take precedence over values from the config file.
package config
