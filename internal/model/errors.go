package model

import "errors"

// Caller and lookup errors shared across services. Match with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnsupportedPolicy = errors.New("unsupported curation policy")
	ErrNotFound          = errors.New("not found")
)
