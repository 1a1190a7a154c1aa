package server

import (
	"time"

	cachepkg "github.com/cirruslabs/resizer/internal/cache"
	"github.com/cirruslabs/resizer/internal/imaging"
	"github.com/cirruslabs/resizer/internal/policy"
	"github.com/cirruslabs/resizer/internal/source"
	"go.uber.org/zap"
)

type Option func(server *Server)

func WithCache(cache cachepkg.Cache) Option {
	return func(server *Server) {
		server.cache = cache
	}
}

func WithFetcher(fetcher source.Fetcher) Option {
	return func(server *Server) {
		server.fetcher = fetcher
	}
}

func WithProcessor(processor imaging.Processor) Option {
	return func(server *Server) {
		server.processor = processor
	}
}

func WithPolicy(policy *policy.Policy) Option {
	return func(server *Server) {
		server.policy = policy
	}
}

func WithMaxUploadBytes(maxUploadBytes int64) Option {
	return func(server *Server) {
		server.maxUploadBytes = maxUploadBytes
	}
}

func WithCORS(allowOrigins []string) Option {
	return func(server *Server) {
		server.corsAllowOrigins = allowOrigins
	}
}

// WithJanitorInterval enables periodic removal of expired
// entries for caches that support it.
func WithJanitorInterval(janitorInterval time.Duration) Option {
	return func(server *Server) {
		server.janitorInterval = janitorInterval
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(server *Server) {
		server.logger = logger
	}
}
