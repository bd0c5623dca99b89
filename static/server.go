package static

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed dist
var dist embed.FS

// assetSuffixes are served from the embedded build as-is. Everything else
// falls through to index.html so client-side routes survive a reload.
var assetSuffixes = []string{".js", ".css", ".svg", ".ico", ".png", ".jpg", ".webp", ".woff2", ".txt", ".map"}

func Handler() http.Handler {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		return http.NotFoundHandler()
	}
	fileServer := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAsset(r.URL.Path) {
			fileServer.ServeHTTP(w, r)
			return
		}
		// Serve index.html directly instead of going through FileServer,
		// which would redirect directory-looking paths.
		b, err := fs.ReadFile(sub, "index.html")
		if err != nil {
			http.Error(w, "index not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	})
}

func isAsset(path string) bool {
	if strings.HasPrefix(path, "/assets/") {
		return true
	}
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
