package models

import "errors"

var (
	ErrEmptyContent      = errors.New("message content is empty")
	ErrInvalidK          = errors.New("k must be positive")
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnindexedField    = errors.New("filter field is not indexed")
)
