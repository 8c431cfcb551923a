// Package templates embeds the files written by `orchestra init`.
package templates

import "embed"

//go:embed config.yaml quality_rules.yaml
var FS embed.FS
