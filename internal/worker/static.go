package worker

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static/*
var staticFS embed.FS

// asset is an embedded dashboard file with its precomputed headers.
type asset struct {
	content     []byte
	contentType string
	etag        string
}

// assets maps a path relative to static/ to its file.
var assets map[string]asset

var assetTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".js":   "application/javascript",
	".css":  "text/css",
	".json": "application/json",
	".svg":  "image/svg+xml",
}

func init() {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("failed to create sub filesystem: " + err.Error())
	}
	assets, err = loadAssets(sub)
	if err != nil {
		panic("failed to load dashboard assets: " + err.Error())
	}
}

func loadAssets(fsys fs.FS) (map[string]asset, error) {
	out := make(map[string]asset)
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(content)
		out[name] = asset{
			content:     content,
			contentType: contentType(name, content),
			etag:        `"` + hex.EncodeToString(sum[:8]) + `"`,
		}
		return nil
	})
	return out, err
}

func contentType(name string, content []byte) string {
	ext := path.Ext(name)
	if ct, ok := assetTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}

// serveAsset writes a file, answering 304 when the client already has it.
// The dashboard is revalidated on every load so a rebuilt binary is picked up.
func serveAsset(w http.ResponseWriter, r *http.Request, a asset) {
	h := w.Header()
	h.Set("Content-Type", a.contentType)
	h.Set("ETag", a.etag)
	h.Set("Cache-Control", "no-cache")

	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, a.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(a.content)
}

func etagMatches(header, etag string) bool {
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if tag == etag || tag == "*" {
			return true
		}
	}
	return false
}

// serveIndex serves the live session dashboard
func serveIndex(w http.ResponseWriter, r *http.Request) {
	a, ok := assets["index.html"]
	if !ok {
		http.Error(w, "Dashboard not found", http.StatusNotFound)
		return
	}
	serveAsset(w, r, a)
}

// serveAssets serves files under /assets/. Directories and paths that escape
// the static tree are not found.
func serveAssets(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/assets/")
	if name == "" || strings.HasSuffix(name, "/") || !fs.ValidPath(name) {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	a, ok := assets[name]
	if !ok {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	serveAsset(w, r, a)
}
