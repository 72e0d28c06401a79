package config

import "errors"

var (
	errInvalidTitleBounds = errors.New("max title length must be >= min title length")
	errInvalidPageBounds  = errors.New("default page limit must be within (0, max page limit]")
	errInvalidBatchSize   = errors.New("export batch size must be positive")
)
