// Package configs embeds the configuration template written by
// `amanrag config init`.
//
// The same template serves the folder config (.amanrag.yaml next to the
// documents) and the user config (~/.config/amanrag/config.yaml). Every
// setting is commented out so the defaults in internal/config apply until a
// line is enabled.
package configs

import _ "embed"

// ConfigTemplate is the commented configuration template.
//
//go:embed config.example.yaml
var ConfigTemplate string
