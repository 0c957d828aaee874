package document

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectType returns the MIME type for a file from its extension, falling
// back to sniffing data.
func DetectType(name string, data []byte) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		t = http.DetectContentType(data)
	}
	if mediaType, _, err := mime.ParseMediaType(t); err == nil {
		return mediaType
	}
	return t
}
