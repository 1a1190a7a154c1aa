package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "resizer_http_requests_total",
		Help: "Total number of HTTP requests by method, status code and operation",
	},
	[]string{"method", "status_code", "operation"},
)
