// Package prompts provides the agent prompt templates with override support.
package prompts

import "embed"

//go:embed code/*.md init/*.md review/*.md verify/*.md
var embeddedFS embed.FS
