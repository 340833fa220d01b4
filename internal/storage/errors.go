package storage

import "errors"

// ErrUnsupportedDSN is returned when a database URL names no known backend.
var ErrUnsupportedDSN = errors.New("storage: unsupported database url")

// ErrWrongTable is returned when a stream is passed to a reader of the other
// record family, such as a feedback table to ScanInferences.
var ErrWrongTable = errors.New("storage: wrong table for operation")
