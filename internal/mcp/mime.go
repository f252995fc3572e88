package mcp

import (
	"path/filepath"
	"strings"
)

var mimeTypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

// MimeTypeForPath returns the MIME type for a file by extension, or
// application/octet-stream when unknown.
func MimeTypeForPath(path string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "application/octet-stream"
}

// isText reports whether content of this type is returned as text rather
// than a blob.
func isText(mimeType string) bool {
	return strings.HasPrefix(mimeType, "text/")
}
