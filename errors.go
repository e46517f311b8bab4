// this file defines the error taxonomy surfaced by the queue core
package main

import "errors"

var (
	ErrValidation      = errors.New("invalid input")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("not allowed")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("backend unavailable")
)
