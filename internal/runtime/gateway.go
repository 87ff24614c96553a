// Package runtime assembles the gateway: configuration, storage, providers,
// the admission components and the HTTP routes, plus their lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apimw "github.com/tjfontaine/socratic-gateway/internal/api/middleware"
	"github.com/tjfontaine/socratic-gateway/internal/auth"
	"github.com/tjfontaine/socratic-gateway/internal/chat"
	"github.com/tjfontaine/socratic-gateway/internal/config"
	"github.com/tjfontaine/socratic-gateway/internal/conversation"
	"github.com/tjfontaine/socratic-gateway/internal/cors"
	"github.com/tjfontaine/socratic-gateway/internal/frontdoor"
	"github.com/tjfontaine/socratic-gateway/internal/frontdoor/conversations"
	"github.com/tjfontaine/socratic-gateway/internal/frontdoor/insights"
	"github.com/tjfontaine/socratic-gateway/internal/frontdoor/models"
	"github.com/tjfontaine/socratic-gateway/internal/model"
	"github.com/tjfontaine/socratic-gateway/internal/observability"
	"github.com/tjfontaine/socratic-gateway/internal/provider"
	"github.com/tjfontaine/socratic-gateway/internal/provider/anthropic"
	"github.com/tjfontaine/socratic-gateway/internal/provider/openai"
	"github.com/tjfontaine/socratic-gateway/internal/ratelimit"
	"github.com/tjfontaine/socratic-gateway/internal/storage"
	"github.com/tjfontaine/socratic-gateway/internal/storage/memory"
	"github.com/tjfontaine/socratic-gateway/internal/storage/sqlite"
	"github.com/tjfontaine/socratic-gateway/internal/tokens"
	"github.com/tjfontaine/socratic-gateway/internal/tools"
)

// Gateway owns every long-lived component of the service.
type Gateway struct {
	// Dependencies (injected via options)
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	store      storage.Store
	searcher   tools.Searcher
	providers  []provider.Provider
	auth       auth.Authenticator
	now        func() time.Time

	// Built by New
	guard        *cors.Guard
	chatLimiter  *ratelimit.Limiter
	convLimiter  *ratelimit.Limiter
	metrics      *observability.Metrics
	toolRegistry *tools.Registry
	handler      http.Handler

	// Lifecycle management
	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a Gateway. A configuration is required (WithConfig or
// WithFileConfig). Storage, providers, authenticator and searcher default to
// what the configuration describes.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, fmt.Errorf("config required (use WithConfig or WithFileConfig)")
	}
	if err := gw.cfg.Validate(); err != nil {
		return nil, err
	}

	if err := gw.initDefaults(); err != nil {
		gw.closeStore()
		return nil, err
	}
	if err := gw.initRoutes(); err != nil {
		gw.closeStore()
		return nil, err
	}
	return gw, nil
}

// initDefaults fills in dependencies no option supplied.
func (g *Gateway) initDefaults() error {
	cfg := g.cfg

	if g.store == nil {
		switch cfg.Storage.Type {
		case "memory":
			g.logger.Info("using in-memory storage")
			g.store = memory.New(memory.WithClock(g.now))
		default:
			path := cfg.Storage.SQLite.Path
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
			store, err := sqlite.New(path, sqlite.WithClock(g.now))
			if err != nil {
				return fmt.Errorf("create sqlite storage: %w", err)
			}
			g.logger.Info("using sqlite storage", slog.String("path", path))
			g.store = store
		}
	}

	if g.providers == nil {
		if key := cfg.Providers.Anthropic.APIKey; key != "" {
			var opts []anthropic.ProviderOption
			if cfg.Providers.Anthropic.BaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(cfg.Providers.Anthropic.BaseURL))
			}
			g.providers = append(g.providers, anthropic.New(key, opts...))
		}
		if key := cfg.Providers.OpenAI.APIKey; key != "" {
			var opts []openai.ProviderOption
			if cfg.Providers.OpenAI.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
			}
			g.providers = append(g.providers, openai.New(key, opts...))
		}
		if len(g.providers) == 0 {
			g.logger.Warn("no provider API key configured; chat requests will fail")
		}
	}

	if g.auth == nil {
		a, err := auth.New(auth.Config{
			Mode:          auth.Mode(cfg.Auth.Mode),
			Secret:        cfg.Auth.Secret,
			AllowOpen:     cfg.Auth.AllowOpen,
			JWTSecret:     cfg.Auth.JWTSecret,
			JWTIssuer:     cfg.Auth.JWTIssuer,
			SessionCookie: cfg.Auth.SessionCookie,
		}, g.logger)
		if err != nil {
			return fmt.Errorf("create authenticator: %w", err)
		}
		g.auth = a
	}

	if g.searcher == nil {
		opts := []tools.TavilyOption{}
		if cfg.Tools.TavilyBaseURL != "" {
			opts = append(opts, tools.WithBaseURL(cfg.Tools.TavilyBaseURL))
		}
		if rps := cfg.Tools.SearchRPS; rps > 0 {
			opts = append(opts, tools.WithRateLimit(rate.Limit(rps), max(1, int(rps))))
		}
		g.searcher = tools.NewTavilyClient(cfg.Tools.TavilyAPIKey, opts...)
	}
	return nil
}

// initRoutes builds the admission components, the handlers and the router.
func (g *Gateway) initRoutes() error {
	cfg := g.cfg

	g.guard = cors.New(cfg.CORS.AllowedOrigins)
	if g.guard.Allowed() == 0 {
		g.logger.Warn("no allowed origins configured; only same-origin browser requests are admitted")
	}

	limits := ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		Max:           cfg.RateLimit.Max,
		PruneInterval: cfg.RateLimit.PruneInterval,
		HighWater:     cfg.RateLimit.HighWater,
	}
	g.chatLimiter = ratelimit.New(limits, ratelimit.WithClock(g.now))
	limits.Max = cfg.RateLimit.ConversationsMax
	g.convLimiter = ratelimit.New(limits, ratelimit.WithClock(g.now))

	g.metrics = observability.NewMetrics()
	g.metrics.RegisterGaugeFunc("socratic_ratelimit_keys", "Client keys tracked by the rate limiters.", func() float64 {
		return float64(g.chatLimiter.Len() + g.convLimiter.Len())
	})

	registry, err := provider.NewRegistry(g.providers...)
	if err != nil {
		return fmt.Errorf("create provider registry: %w", err)
	}
	selector := model.NewSelector(func() model.Credentials {
		return model.Credentials{
			Anthropic: registry.Has(model.ProviderAnthropic),
			OpenAI:    registry.Has(model.ProviderOpenAI),
		}
	})

	g.toolRegistry, err = tools.Default(tools.Deps{
		Searcher: g.searcher,
		Insights: g.store,
		Logger:   g.logger,
	})
	if err != nil {
		return fmt.Errorf("create tool registry: %w", err)
	}

	recorder := conversation.NewRecorder(g.store, g.logger)
	pipeline, err := chat.New(chat.Deps{
		Guard:     g.guard,
		Limiter:   g.chatLimiter,
		Auth:      g.auth,
		Models:    selector,
		Providers: registry,
		Tools:     g.toolRegistry,
		Recorder:  recorder,
		Metrics:   g.metrics,
		Tokens:    tokens.NewCounter(),
		Logger:    g.logger,
	},
		chat.WithMaxSteps(cfg.Chat.MaxSteps),
		chat.WithToolConcurrency(cfg.Chat.ToolConcurrency),
		chat.WithMaxTokens(cfg.Chat.MaxTokens),
		chat.WithClock(g.now),
	)
	if err != nil {
		return fmt.Errorf("create chat pipeline: %w", err)
	}

	convAdmit := &frontdoor.Admission{
		Guard:   g.guard.WithMethods(http.MethodGet, http.MethodPost, http.MethodDelete),
		Auth:    g.auth,
		Limiter: g.convLimiter,
		Logger:  g.logger,
	}
	insightsAdmit := &frontdoor.Admission{
		Guard:   g.guard.WithMethods(http.MethodGet),
		Auth:    g.auth,
		Limiter: g.convLimiter,
		Logger:  g.logger,
	}
	modelsAdmit := &frontdoor.Admission{Guard: g.guard.WithMethods(http.MethodGet), Auth: g.auth, Logger: g.logger}
	convHandler := conversations.NewHandler(g.store, recorder, g.logger)
	insightsHandler := insights.NewHandler(g.store, g.logger)
	modelsHandler := models.NewHandler(selector)

	r := chi.NewRouter()
	r.Use(apimw.RequestIDMiddleware)
	r.Use(apimw.LoggingMiddleware(g.logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, cfg.Telemetry.ServiceName)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apimw.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"providers": registry.Names(),
		})
	})
	r.Handle("/metrics", g.metrics.Handler())

	// streaming responses outlive any fixed request timeout
	r.Post("/api/chat", pipeline.ServeHTTP)
	r.Options("/api/chat", pipeline.Preflight)

	r.Route("/api/conversations", func(r chi.Router) {
		r.Use(apimw.TimeoutMiddleware(cfg.Server.RequestTimeout))
		r.Use(convAdmit.Middleware("conversations"))
		convHandler.Routes(r)
	})
	r.Route("/api/insights", func(r chi.Router) {
		r.Use(apimw.TimeoutMiddleware(cfg.Server.RequestTimeout))
		r.Use(insightsAdmit.Middleware("insights"))
		r.Get("/", insightsHandler.HandleList)
	})
	r.Route("/api/models", func(r chi.Router) {
		r.Use(apimw.TimeoutMiddleware(cfg.Server.RequestTimeout))
		r.Use(modelsAdmit.Middleware("models"))
		r.Get("/", modelsHandler.HandleList)
	})

	g.handler = r
	g.logger.Info("routes registered",
		slog.Any("providers", registry.Names()),
		slog.Int("tools", len(g.toolRegistry.All())),
		slog.Int("allowed_origins", g.guard.Allowed()),
	)
	return nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Addr returns the listening address once Start has succeeded.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Start listens on the configured port and runs the server, the rate
// limiter prune loops and, when configuration came from a file, the config
// watcher. It returns once the listener is open.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return errors.New("gateway already started")
	}

	ln, err := net.Listen("tcp", g.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.cfg.Address(), err)
	}
	g.addr = ln.Addr()

	g.server = &http.Server{
		Handler:           g.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, g.cancel = context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	g.group = group

	group.Go(func() error {
		g.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error { return g.chatLimiter.Run(gctx) })
	group.Go(func() error { return g.convLimiter.Run(gctx) })
	if g.configPath != "" {
		group.Go(func() error {
			return config.Watch(gctx, g.configPath, g.logger, g.applyConfig)
		})
	}

	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.Int("providers", len(g.providers)),
	)
	return nil
}

// applyConfig applies the parts of a reloaded config that can change at
// runtime. Everything else needs a restart.
func (g *Gateway) applyConfig(cfg *config.Config) {
	g.guard.SetAllowed(cfg.CORS.AllowedOrigins)
	g.logger.Info("reload complete", slog.Int("allowed_origins", g.guard.Allowed()))
}

// Shutdown drains the server, stops background loops and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if g.cancel != nil {
		g.cancel()
	}
	if g.group != nil {
		if err := g.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.closeStore(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

func (g *Gateway) closeStore() error {
	if g.store == nil {
		return nil
	}
	err := g.store.Close()
	g.store = nil
	return err
}
