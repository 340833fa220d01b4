// Package api embeds the curator OpenAPI document served at /openapi.yaml.
package api

import _ "embed"

// ContentType is the media type the document is served with.
const ContentType = "application/yaml"

// OpenAPISpec is the raw OpenAPI 3.1 YAML document.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
