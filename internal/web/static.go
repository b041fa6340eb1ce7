package web

import (
	"embed"
)

// staticFiles holds the embedded page, stylesheet and script.
//
//go:embed static/*
var staticFiles embed.FS
