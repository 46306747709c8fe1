// Package blob stores downloaded media binaries.
package blob

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
)

// Key identifies one stored binary.
type Key struct {
	FormID      string
	RecordID    string
	MediaType   string
	MediaID     string
	Size        string
	ContentType string
}

// Name returns the slash separated relative name: form/record/type_id_size.ext.
func (k Key) Name() string {
	file := k.MediaType + "_" + k.MediaID + "_" + k.Size + Extension(k.ContentType)
	return path.Join(safe(k.FormID), safe(k.RecordID), safe(file))
}

// Store saves binaries and resolves where they live.
type Store interface {
	// Save copies r under key and returns the stored path.
	Save(ctx context.Context, r io.Reader, key Key) (string, error)
	// Path returns the location Save writes key to.
	Path(key Key) string
	// URL returns a public URL for key; ok is false without a public base.
	URL(key Key) (url string, ok bool)
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"audio/mp4":       ".m4a",
	"audio/mpeg":      ".mp3",
	"audio/x-wav":     ".wav",
}

// Extension maps a content type to a file extension, "" when unknown.
func Extension(contentType string) string {
	ct, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := extensions[ct]; ok {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(ct); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func safe(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "_"
	}
	return s
}

func joinURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}
