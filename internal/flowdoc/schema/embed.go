// Package schema embeds the reference flow document JSON Schema,
// mirroring how the teacher embeds static assets (internal/defaults,
// internal/dashboard's embed.go).
package schema

import _ "embed"

//go:embed flow.schema.json
var FlowSchema []byte
