package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// mountStatic serves the files of dir under /assets/ and falls back to
// dir/index.html for other GET requests, so client-side routes resolve.
// Unknown API paths still get a JSON 404.
func mountStatic(r chi.Router, dir string) {
	assets := http.StripPrefix("/assets/", http.FileServer(http.Dir(dir)))
	r.Handle("/assets/*", assets)

	index := filepath.Join(dir, "index.html")
	serveIndex := func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			notFound(w, req)
			return
		}
		if strings.HasPrefix(req.URL.Path, "/api/") {
			notFound(w, req)
			return
		}
		if _, err := os.Stat(index); err != nil {
			notFound(w, req)
			return
		}
		http.ServeFile(w, req, index)
	}

	r.Get("/", serveIndex)
	r.NotFound(serveIndex)
}
