package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrForbidden — операция запрещена (блокировка, не участник группы).
	ErrForbidden = errors.New("forbidden")
)
