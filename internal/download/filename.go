package download

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxNameBytes is the usual file name limit of common file systems.
const maxNameBytes = 255

// defaultName replaces path elements that sanitize to nothing.
const defaultName = "download"

// reservedNames are device names Windows refuses as file names.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeRelPath turns a crawler suggested path into a safe relative path
// using the OS separator. Elements are NFC normalized, characters invalid
// on common file systems are replaced, "." and ".." are dropped and long
// names are shortened keeping the extension. The result never escapes the
// download root and is never empty.
func SanitizeRelPath(rel string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	elems := make([]string, 0, strings.Count(rel, "/")+1)
	for _, e := range strings.Split(rel, "/") {
		if e == "" || e == "." || e == ".." {
			continue
		}
		if s := sanitizeName(e); s != "" {
			elems = append(elems, s)
		}
	}
	if len(elems) == 0 {
		return defaultName
	}
	return filepath.Join(elems...)
}

func sanitizeName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '|', '?', '*', '/', '\\':
			return '_'
		case utf8.RuneError:
			return '_'
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	name = strings.TrimRight(strings.TrimSpace(name), ". ")
	if name == "" {
		return ""
	}

	stem := strings.TrimSuffix(name, path.Ext(name))
	if reservedNames[strings.ToUpper(stem)] {
		name = "_" + name
	}
	return truncateName(name, maxNameBytes)
}

// truncateName shortens name to at most limit bytes on a rune boundary,
// keeping a short extension.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := path.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	budget := limit - len(ext)
	for len(stem) > budget {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	return stem + ext
}

// numberedPath returns "name (n).ext" next to p.
func numberedPath(p string, n int) string {
	dir, base := filepath.Split(p)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
}
