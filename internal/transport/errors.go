package transport

import "errors"

// ErrInvalidProxy is returned when the proxy URL cannot be used.
var ErrInvalidProxy = errors.New("invalid proxy url: use http://, https://, socks5:// or socks5h://")
