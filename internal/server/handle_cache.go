package server

import (
	"net/http"

	cachepkg "github.com/cirruslabs/resizer/internal/cache"
	"github.com/labstack/echo/v4"
)

type cacheStats struct {
	Enabled    bool    `json:"enabled"`
	Entries    int     `json:"entries"`
	UsedBytes  uint64  `json:"used_bytes"`
	LimitBytes uint64  `json:"limit_bytes"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

func (server *Server) handleCacheStats(c echo.Context) error {
	withStats, ok := server.cache.(interface{ Stats() cachepkg.Stats })
	if !ok {
		return c.JSON(http.StatusOK, &cacheStats{})
	}

	stats := withStats.Stats()

	return c.JSON(http.StatusOK, &cacheStats{
		Enabled:    true,
		Entries:    stats.Entries,
		UsedBytes:  stats.UsedBytes,
		LimitBytes: stats.LimitBytes,
		TTLSeconds: stats.TTL.Seconds(),
	})
}
