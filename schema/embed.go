package schema

import _ "embed"

// GroupV1Schema contains the JSON schema for procgroup manifests.
//
//go:embed group.v1.json
var GroupV1Schema []byte
