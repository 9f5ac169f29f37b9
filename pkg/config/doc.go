// Package config defines the agent's container lifecycle configuration,
// loaded from YAML with flag overrides applied by the CLI.
package config
