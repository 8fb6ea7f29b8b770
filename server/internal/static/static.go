// Package static serves the browser client's files for every request that
// no other route claims.
package static

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// errorBody is sent for any filesystem failure other than a missing file.
const errorBody = "Something went wrong..."

// Handler serves files under dir. Missing files and directories without an
// index.html get 404; any other filesystem error becomes a plain 500.
func Handler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if err := check(root, name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.NotFound(w, r)
				return
			}
			slog.Error("static: serve file", "path", name, "err", err)
			http.Error(w, errorBody, http.StatusInternalServerError)
			return
		}

		files.ServeHTTP(w, r)
	})
}

// check opens name the same way http.FileServer will, so every failure is
// classified before any bytes are written.
func check(root http.FileSystem, name string) error {
	f, err := root.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	// Directories are served only through their index.html; no listings.
	index, err := root.Open(strings.TrimSuffix(name, "/") + "/index.html")
	if err != nil {
		return err
	}
	return index.Close()
}

// Available reports whether dir exists and is a directory.
func Available(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(filepath.Clean(dir))
	return err == nil && info.IsDir()
}
