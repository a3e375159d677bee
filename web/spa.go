// Package web serves a prebuilt form frontend as a single-page application.
// The frontend is built and deployed separately; the server only mounts it
// when a static directory is configured.
package web

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

// SPAHandler serves files from fsys and falls back to index.html for any
// path that doesn't match a file (client-side routing).
func SPAHandler(fsys fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := fsys.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close static file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
