// Package web serves the embedded dashboard pages.
package web

import (
	"embed"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed dist/*
var content embed.FS

// Handler serves the dashboard. index.html is served for "/" and for any
// path that is not an asset, with the build version in a meta tag the
// pages show in their footer.
func Handler(version string) (http.Handler, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}
	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading embedded index.html: %w", err)
	}
	tag := `<meta name="tradedesk-version" content="` + html.EscapeString(version) + `">`
	index := []byte(strings.Replace(string(indexBytes), "</head>", tag+"\n</head>", 1))

	static := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name != "" && name != "." && name != "index.html" {
			if _, err := fs.Stat(fsys, name); err == nil {
				w.Header().Set("Cache-Control", "public, max-age=300")
				static.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(index)
	}), nil
}
