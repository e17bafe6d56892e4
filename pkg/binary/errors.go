package binary

import "errors"

var (
	ErrBinaryNotFound    = errors.New("binary file not found")
	ErrInvalidExecutable = errors.New("invalid or unsupported executable format")
	ErrUnsupportedFormat = errors.New("unsupported binary type")
	ErrUnsupportedArch   = errors.New("unsupported architecture")
	ErrSectionRead       = errors.New("failed to read section contents")
)
