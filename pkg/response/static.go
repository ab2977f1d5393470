// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package response

import (
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/absmach/weaprous/pkg/header"
)

// Static serves files below a root directory for requests no route matched.
type Static struct {
	root   fs.FS
	logger *slog.Logger
}

// NewStatic serves files from dir.
func NewStatic(dir string, logger *slog.Logger) *Static {
	return NewStaticFS(os.DirFS(dir), logger)
}

// NewStaticFS serves files from fsys.
func NewStaticFS(fsys fs.FS, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{root: fsys, logger: logger}
}

// Serve returns the file named by urlPath, or a 404 when it is absent,
// a directory, or escapes the root.
func (s *Static) Serve(urlPath string) *Response {
	name, ok := cleanName(urlPath)
	if !ok {
		s.logger.Debug("static path rejected", slog.String("path", urlPath))
		return NotFound()
	}

	body, err := fs.ReadFile(s.root, name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read static file", slog.String("path", name), slog.String("error", err.Error()))
		}
		return NotFound()
	}

	h := header.New(header.Field{Name: "Content-Type", Value: contentType(name)})
	return New(http.StatusOK, h, body)
}

// cleanName converts a request path into an fs.FS name. Query strings are
// ignored; any ".." element is rejected.
func cleanName(urlPath string) (string, bool) {
	if i := strings.IndexAny(urlPath, "?#"); i >= 0 {
		urlPath = urlPath[:i]
	}
	if !strings.HasPrefix(urlPath, "/") {
		return "", false
	}
	for _, elem := range strings.Split(urlPath, "/") {
		if elem == ".." {
			return "", false
		}
	}
	name := strings.TrimPrefix(path.Clean(urlPath), "/")
	if name == "" || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
