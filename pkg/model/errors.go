package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrProviderUnavailable marks failures of the embedding or generation provider
	ErrProviderUnavailable = goerr.New("provider unavailable")

	// ErrStoreFailure marks failures of the memory store
	ErrStoreFailure = goerr.New("memory store failure")

	// ErrMalformedCommand marks a recognized command prefix with an unusable remainder
	ErrMalformedCommand = goerr.New("malformed command")
)
