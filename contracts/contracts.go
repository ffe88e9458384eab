// Package contracts embeds the OpenAPI documents served by the API.
package contracts

import _ "embed"

//go:embed lti.yaml
var LTI []byte
