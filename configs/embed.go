// Package configs embeds the configuration template shipped with the
// binary so `agentbrain init` works from any install method.
package configs

import _ "embed"

// ConfigTemplate is written to .agentbrain/config.yaml by the init
// command. Every value in it matches the built-in defaults.
//
//go:embed config.example.yaml
var ConfigTemplate string
