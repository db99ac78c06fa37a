package domain

import "errors"

var (
	ErrNoTransport          = errors.New("no authenticated capture surface connected")
	ErrHandshakeFailed      = errors.New("handshake failed")
	ErrTransportLost        = errors.New("capture surface connection lost")
	ErrSessionTimeout       = errors.New("session timed out")
	ErrSanitizationRejected = errors.New("transcript rejected by sanitizer")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrPermission           = errors.New("automation permission denied")
)
