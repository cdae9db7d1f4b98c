// Package waterlevel embeds the web page served at the root of the HTTP
// server.
package waterlevel

import (
	"embed"
	"io/fs"
)

//go:embed static/*
var staticFiles embed.FS

// StaticFiles returns the embedded web root with the static/ prefix removed.
func StaticFiles() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
