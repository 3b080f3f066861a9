package assets

import "embed"

// WebFS holds the browser test client served at "/".
//
//go:embed index.html
var WebFS embed.FS
