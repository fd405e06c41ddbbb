package applications

import "errors"

var ErrNotFound = errors.New("not found")
