// Package gateway provides the public API for embedding the Socratic chat
// gateway in another program.
package gateway

import (
	"github.com/tjfontaine/socratic-gateway/internal/runtime"
)

// Gateway is the main entry point for running the gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/socratic.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithFileConfig = runtime.WithFileConfig

	// Storage
	WithStore       = runtime.WithStore
	WithSQLite      = runtime.WithSQLite
	WithMemoryStore = runtime.WithMemoryStore

	// Collaborators
	WithProviders     = runtime.WithProviders
	WithAuthenticator = runtime.WithAuthenticator
	WithSearcher      = runtime.WithSearcher

	// Advanced options
	WithLogger = runtime.WithLogger
	WithClock  = runtime.WithClock
)
