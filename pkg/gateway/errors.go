package gateway

import "errors"

var (
	ErrNoProviders           = errors.New("no providers registered")
	ErrProviderNotFound      = errors.New("provider not found")
	ErrAllProvidersUnhealthy = errors.New("no healthy providers available")
	ErrInvalidConfig         = errors.New("invalid gateway config")
)
