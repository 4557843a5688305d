package main

import "errors"

// Every error returned while handling a command closes the issuing connection.
var (
	ErrAuth       = errors.New("auth error")
	ErrPermission = errors.New("permission denied")
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrProtocol   = errors.New("protocol error")

	// ErrClosed is returned by the close command; the connection ends normally.
	ErrClosed = errors.New("closed by client")
)
