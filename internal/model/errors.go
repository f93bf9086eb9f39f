package model

import "errors"

// ErrInvalidURL is returned when an input string cannot be used as a URL.
var ErrInvalidURL = errors.New("invalid url")
