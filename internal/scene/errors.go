package scene

import "errors"

var (
	ErrDuplicateID   = errors.New("duplicate id")
	ErrUnknownEntity = errors.New("unknown entity")
)
