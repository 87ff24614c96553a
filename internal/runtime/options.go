package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/socratic-gateway/internal/auth"
	"github.com/tjfontaine/socratic-gateway/internal/config"
	"github.com/tjfontaine/socratic-gateway/internal/provider"
	"github.com/tjfontaine/socratic-gateway/internal/storage"
	"github.com/tjfontaine/socratic-gateway/internal/storage/memory"
	"github.com/tjfontaine/socratic-gateway/internal/storage/sqlite"
	"github.com/tjfontaine/socratic-gateway/internal/tools"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfig uses an already loaded configuration. The CORS allow-list is
// not hot-reloaded.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("nil config")
		}
		g.cfg = cfg
		return nil
	}
}

// WithFileConfig loads configuration from path (plus the environment) and
// watches the file so allow-list edits apply without a restart.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		g.cfg = cfg
		g.configPath = path
		if g.configPath == "" {
			g.configPath = config.DefaultPath
		}
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithStore sets the persistence backend. The gateway closes it on
// Shutdown.
func WithStore(store storage.Store) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithSQLite uses SQLite storage at path.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqlite.New(path, sqlite.WithClock(g.now))
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithMemoryStore uses the in-process store.
func WithMemoryStore() Option {
	return func(g *Gateway) error {
		g.store = memory.New(memory.WithClock(g.now))
		return nil
	}
}

// WithSearcher sets the web search backend used by the search tools.
func WithSearcher(searcher tools.Searcher) Option {
	return func(g *Gateway) error {
		g.searcher = searcher
		return nil
	}
}

// WithProviders replaces the providers built from configured API keys.
func WithProviders(providers ...provider.Provider) Option {
	return func(g *Gateway) error {
		g.providers = providers
		return nil
	}
}

// WithAuthenticator replaces the authenticator built from configuration.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(g *Gateway) error {
		g.auth = a
		return nil
	}
}

// WithClock sets the time source for rate limiting and stored timestamps.
// Apply it before storage options.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) error {
		g.now = now
		return nil
	}
}
