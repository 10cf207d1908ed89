package domain

import "errors"

var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrInvalidTier    = errors.New("invalid tier")
	ErrNoModelCall    = errors.New("model call function is required")
	ErrNotConfigured  = errors.New("not configured")
	ErrUnsafeQuery    = errors.New("unsafe query")
	ErrPluginNotFound = errors.New("plugin not found")
	ErrTraceNotFound  = errors.New("trace not found")
)
