package config

import "errors"

// ErrInvalidConfig wraps every validation failure so callers can test for
// configuration problems with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")
