// Embedded editor page and query language documentation.
package main

import (
	"embed"
	"io/fs"
)

//go:embed static/*
var staticFiles embed.FS

//go:embed docs/*
var docsFiles embed.FS

// getStaticFS returns a filesystem rooted at the static directory.
func getStaticFS() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

// getDocsFS returns a filesystem rooted at the docs directory.
func getDocsFS() (fs.FS, error) {
	return fs.Sub(docsFiles, "docs")
}
