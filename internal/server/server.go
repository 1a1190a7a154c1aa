package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brpaz/echozap"
	cachepkg "github.com/cirruslabs/resizer/internal/cache"
	"github.com/cirruslabs/resizer/internal/imaging"
	"github.com/cirruslabs/resizer/internal/policy"
	"github.com/cirruslabs/resizer/internal/server/capturingresponsewriter"
	"github.com/cirruslabs/resizer/internal/source"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultMaxUploadBytes = 32 * humanize.MiByte

type Server struct {
	listener   net.Listener
	httpServer *http.Server
	echo       *echo.Echo
	logger     *zap.SugaredLogger

	cache     cachepkg.Cache
	coalescer *cachepkg.Coalescer
	fetcher   source.Fetcher
	processor imaging.Processor
	policy    *policy.Policy

	maxUploadBytes   int64
	corsAllowOrigins []string
	janitorInterval  time.Duration
	cacheControl     string
}

func New(addr string, opts ...Option) (*Server, error) {
	server := &Server{
		maxUploadBytes: DefaultMaxUploadBytes,
	}

	// Apply options
	for _, opt := range opts {
		opt(server)
	}

	// Apply defaults
	if server.logger == nil {
		server.logger = zap.NewNop().Sugar()
	}

	if server.cache == nil {
		server.cache = cachepkg.NewMemory(cachepkg.DefaultLimitBytes, cachepkg.DefaultTTL,
			cachepkg.WithLogger(server.logger))
	}

	if server.fetcher == nil {
		server.fetcher = source.New(source.WithLogger(server.logger))
	}

	if server.processor == nil {
		server.processor = imaging.New()
	}

	server.coalescer = cachepkg.NewCoalescer(server.cache)
	server.cacheControl = cacheControl(server.cache)

	// Listen on the desired port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server.listener = listener

	// Configure routes
	server.echo = echo.New()
	server.echo.HideBanner = true
	server.echo.HidePort = true

	server.echo.Use(
		middleware.Recover(),
		middleware.RequestIDWithConfig(middleware.RequestIDConfig{
			Generator: uuid.NewString,
		}),
		echozap.ZapLogger(server.logger.Desugar()),
	)

	if len(server.corsAllowOrigins) != 0 {
		server.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: server.corsAllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			ExposeHeaders: []string{
				headerETag, headerXCache, headerXOriginalWidth, headerXOriginalHeight,
			},
		}))
	}

	server.echo.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "healthy")
	})
	server.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	server.echo.GET("/cache", server.handleCacheStats)

	resize := server.echo.Group("/resize")
	resize.GET("", server.handleResizeGet)
	resize.POST("", server.handleResizePost)
	resize.DELETE("", server.handleResizeDelete)

	// Configure HTTP server
	server.httpServer = &http.Server{
		Handler:           server,
		ReadHeaderTimeout: 30 * time.Second,
	}

	return server, nil
}

func (server *Server) Addr() string {
	return strings.ReplaceAll(server.listener.Addr().String(), "[::]", "127.0.0.1")
}

func (server *Server) Run(ctx context.Context) error {
	server.logger.Infof("listening on %s", server.Addr())

	go func() {
		<-ctx.Done()

		_ = server.httpServer.Close()
	}()

	if server.janitorInterval > 0 {
		go server.janitor(ctx)
	}

	if err := server.httpServer.Serve(server.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
			return nil
		}

		return err
	}

	return nil
}

func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	server.logger.Debugf("request: %+v", request)

	// Capture response writer's status code
	capturingResponseWriter := capturingresponsewriter.Wrap(writer)

	server.echo.ServeHTTP(capturingResponseWriter, request)

	// Metrics
	requestsCounter.WithLabelValues(
		request.Method,
		strconv.Itoa(capturingResponseWriter.StatusCode()),
		operation(request),
	).Inc()
}

func (server *Server) janitor(ctx context.Context) {
	purger, ok := server.cache.(interface{ PurgeExpired() int })
	if !ok {
		return
	}

	ticker := time.NewTicker(server.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if purged := purger.PurgeExpired(); purged != 0 {
				server.logger.Debugf("purged %d expired cache entries", purged)
			}
		case <-ctx.Done():
			return
		}
	}
}

func operation(request *http.Request) string {
	switch request.URL.Path {
	case "/health":
		return "health-check"
	case "/metrics":
		return "metrics"
	case "/cache":
		return "cache-stats"
	case "/resize":
		switch request.Method {
		case http.MethodGet:
			return "resize-remote"
		case http.MethodPost:
			return "resize-upload"
		case http.MethodDelete:
			return "purge"
		}
	}

	return "unknown"
}

// cacheControl tells downstream caches to hold the response
// for as long as we hold the corresponding cache entry.
func cacheControl(cache cachepkg.Cache) string {
	withTTL, ok := cache.(interface{ TTL() time.Duration })
	if !ok {
		return "no-cache"
	}

	if withTTL.TTL() <= 0 {
		return "public"
	}

	return fmt.Sprintf("public, max-age=%d", int64(withTTL.TTL().Seconds()))
}
