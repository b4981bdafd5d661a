// Package defaults provides the embedded example configuration written
// by the sundevil init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the annotated example configuration.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// EnvExample lists the secrets config.example.yaml references.
//
//go:embed env.example
var EnvExample []byte
