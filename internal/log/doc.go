// Package log provides secure logging built on the standard slog package.
//
// SecureHandler wraps any slog.Handler and masks sensitive values before
// they are written:
//   - HTTP headers such as Authorization, Cookie and Set-Cookie, whether
//     logged one by one or as a whole http.Header
//   - values that look like credentials (bearer/basic auth, JWTs, AWS keys)
//   - signed query parameters of presigned download links and passwords in
//     proxy URLs, keeping the rest of the URL readable
//
// Usage:
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Debug("fetch", "url", presignedURL, "cookie", cookie)
//
// RedactURL is exported so that progress output and reports can apply the
// same masking to URLs they print.
package log
