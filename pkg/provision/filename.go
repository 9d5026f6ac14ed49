package provision

import (
	"path"
	"strings"
)

const maxFilenameLen = 100

// Content types by template extension
const (
	ContentTypeXML  = "application/xml"
	ContentTypeText = "text/plain"
)

// SanitizeFilename strips any directory part, replaces characters outside
// [A-Za-z0-9._-] with '_' and truncates to 100 characters. The result may
// be empty.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if len(out) > maxFilenameLen {
		out = out[:maxFilenameLen]
	}
	return out
}

// DownloadName picks the attachment name for a response
func DownloadName(requested, model, ext string) string {
	name := requested
	if name == "" {
		name = model + "." + ext
	}
	if clean := SanitizeFilename(name); clean != "" {
		return clean
	}
	return "config." + ext
}

// ContentTypeFor maps a template extension to its response content type
func ContentTypeFor(ext string) string {
	if ext == "cfg" {
		return ContentTypeText
	}
	return ContentTypeXML
}
