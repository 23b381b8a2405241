package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront-cart/internal/service"
	"github.com/utafrali/storefront-cart/pkg/health"
	"github.com/utafrali/storefront-cart/pkg/middleware"
)

// maxBodyBytes caps request bodies; cart payloads are a few hundred bytes.
const maxBodyBytes = 64 << 10

// RouterConfig carries the HTTP-layer settings taken from config.Config.
type RouterConfig struct {
	CORS           middleware.CORSConfig
	RateLimitRPS   float64
	RateLimitBurst int
	PprofCIDRs     []string
}

// NewRouter creates a chi router with all cart service routes registered.
// ctx bounds the rate limiter's background sweeper.
func NewRouter(
	ctx context.Context,
	cartService *service.CartService,
	resolve middleware.PrincipalResolver,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cart"))
	r.Use(middleware.Tracing("cart"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	healthHandler.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	// Cart API endpoints
	cartHandler := NewCartHandler(cartService, logger)
	limit := middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, middleware.KeyByPrincipal, logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)
		r.Use(chimw.RequestSize(maxBodyBytes))
		r.Use(middleware.Auth(resolve))

		r.Get("/", cartHandler.GetCart)

		r.Group(func(r chi.Router) {
			r.Use(limit)

			r.Post("/items", cartHandler.AddItem)
			r.Patch("/items/{itemId}", cartHandler.UpdateItemQuantity)
			r.Delete("/items/{itemId}", cartHandler.RemoveItem)
			r.Delete("/{cartId}", cartHandler.ClearCart)
		})
	})

	return r
}
