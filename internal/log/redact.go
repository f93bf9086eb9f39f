package log

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// sensitivePatterns match whole values that must never be logged.
var sensitivePatterns = []*regexp.Regexp{
	// JWT tokens
	regexp.MustCompile(`^eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*$`),
	// Bearer tokens
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	// Basic auth
	regexp.MustCompile(`(?i)^basic\s+[A-Za-z0-9+/=]+$`),
	// AWS access keys
	regexp.MustCompile(`^(AKIA|ASIA)[0-9A-Z]{16}$`),
	// Private key markers
	regexp.MustCompile(`(?i)-----BEGIN.*(PRIVATE|SECRET).*KEY-----`),
}

// sensitiveQueryParams are query parameters masked by RedactURL.
// Matching is case-insensitive.
var sensitiveQueryParams = map[string]bool{
	"x-amz-signature":      true,
	"x-amz-credential":     true,
	"x-amz-security-token": true,
	"signature":            true,
	"sig":                  true,
	"token":                true,
	"access_token":         true,
	"auth":                 true,
	"key":                  true,
	"apikey":               true,
	"api_key":              true,
	"expires_token":        true,
}

func isSensitiveValue(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// RedactURL masks the user password and signed query parameters of raw.
// Strings that do not parse as absolute URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	changed := false
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), MaskValue)
			changed = true
		}
	}

	if u.RawQuery != "" {
		params := strings.Split(u.RawQuery, "&")
		for i, param := range params {
			name, _, _ := strings.Cut(param, "=")
			if unescaped, err := url.QueryUnescape(name); err == nil {
				name = unescaped
			}
			if sensitiveQueryParams[strings.ToLower(name)] {
				params[i] = name + "=" + MaskValue
				changed = true
			}
		}
		u.RawQuery = strings.Join(params, "&")
	}

	if !changed {
		return raw
	}
	// userinfo escaping turns the mask into %2A%2A%2A...
	return strings.ReplaceAll(u.String(), url.QueryEscape(MaskValue), MaskValue)
}

// RedactHeader returns a copy of h with credential headers masked.
func RedactHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if isSensitiveKey(name) {
			out[name] = []string{MaskValue}
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = sanitizeString(v)
		}
		out[name] = masked
	}
	return out
}
