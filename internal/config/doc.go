// Package config loads and validates agent configuration.
//
// Configuration is a YAML file with ${VAR} environment expansion.
// Load reads the raw file, LoadWithDefaults fills unset optional fields,
// and LoadAndValidate additionally rejects configs missing required
// fields. Startup uses LoadAndValidate; a validation failure is fatal
// before any connection attempt.
package config
