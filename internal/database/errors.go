package database

import "errors"

var (
	ErrManagerClosed     = errors.New("database manager is closed")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
