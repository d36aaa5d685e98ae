// Package ui embeds the static cred dashboard served under /ui/.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var content embed.FS

// GetHandler returns an http.Handler serving the embedded dashboard.
// The "static" prefix is stripped so index.html sits at the handler root.
func GetHandler() http.Handler {
	fsys, err := fs.Sub(content, "static")
	if err != nil {
		panic(err) // Should never happen with embed
	}
	return http.FileServer(http.FS(fsys))
}
