package bridges

import (
	"errors"
)

var (
	// ErrUnsupportedChain is returned when a provider has no deployment on a chain
	ErrUnsupportedChain = errors.New("chain not supported by provider")
	// ErrQuoteNotFound is returned by BuildTransaction for quotes the provider did not issue
	// or that already expired from its cache
	ErrQuoteNotFound = errors.New("quote expired or not found")
	// ErrUnknownProvider is returned by the registry for unregistered names
	ErrUnknownProvider = errors.New("unknown bridge provider")
)
