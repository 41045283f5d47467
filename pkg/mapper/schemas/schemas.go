package schemas

import "embed"

// FS holds the envelope schema of each feed response, named <feed>.json.
//
//go:embed *.json
var FS embed.FS
