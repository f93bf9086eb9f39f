package crawler

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// fallbackFilename is used when neither the response nor the URL names the file.
const fallbackFilename = "download"

// fileExtensions are extensions treated as downloadable files.
var fileExtensions = map[string]bool{
	// images
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".heic": true, ".avif": true,
	".svg": true, ".jxl": true,
	// video
	".mp4": true, ".mkv": true, ".webm": true, ".mov": true, ".avi": true,
	".m4v": true, ".wmv": true, ".flv": true, ".ts": true,
	// audio
	".mp3": true, ".flac": true, ".wav": true, ".ogg": true, ".m4a": true,
	".aac": true, ".opus": true,
	// archives
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".bz2": true, ".xz": true, ".zst": true, ".iso": true,
	// documents
	".pdf": true, ".epub": true, ".cbz": true, ".cbr": true, ".txt": true,
	".csv": true, ".json": true, ".xml": true,
	// binaries
	".bin": true, ".exe": true, ".dmg": true, ".apk": true, ".deb": true,
	".rpm": true, ".msi": true,
}

// mediaExtensions are the file extensions gallery crawlers collect by default.
var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".heic": true, ".avif": true,
	".jxl": true, ".mp4": true, ".mkv": true, ".webm": true, ".mov": true,
	".m4v": true, ".mp3": true, ".flac": true, ".wav": true, ".ogg": true,
	".m4a": true, ".zip": true, ".rar": true, ".7z": true, ".pdf": true,
}

// hasExtension reports whether the URL path ends with an extension in set.
func hasExtension(u *url.URL, set map[string]bool) bool {
	return set[strings.ToLower(path.Ext(u.Path))]
}

// FilenameFromDisposition returns the file name of a Content-Disposition
// header, preferring the RFC 5987 filename* form. Empty when absent.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	// mime.ParseMediaType decodes filename* into filename.
	name := strings.TrimSpace(params["filename"])
	if name == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// FilenameFromURL returns the unescaped last path element of u.
func FilenameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "/" || base == "." || base == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}

// isAttachment reports whether the response is served as a download.
func isAttachment(h http.Header) bool {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return false
	}
	disposition, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(cd), "attachment")
	}
	return disposition == "attachment" || params["filename"] != ""
}

// isPageContentType reports whether a media type describes a web page or
// an API document rather than a file.
func isPageContentType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mt == "":
		return true
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/xhtml+xml", mt == "application/json", mt == "application/xml":
		return true
	}
	return false
}

// joinRel joins relative path elements, skipping empty ones.
func joinRel(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return path.Join(parts...)
}
