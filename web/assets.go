// Package web contains embedded assets for the built-in admin UI.
package web

import "embed"

// Assets contains the embedded admin UI pages.
//
//go:embed *.html
var Assets embed.FS
