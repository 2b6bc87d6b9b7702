package protocol

import "errors"

var (
	ErrInvalidEndpoint = errors.New("protocol: invalid endpoint")
	ErrInvalidPort     = errors.New("protocol: invalid port")
)
