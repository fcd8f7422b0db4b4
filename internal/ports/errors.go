package ports

import "errors"

var ErrNotFound = errors.New("not found")

// ErrConflict signale un conflit de version (écriture concurrente).
var ErrConflict = errors.New("conflict")
