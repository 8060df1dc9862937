package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "login_attempts_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a login rate limiter, by key scope.",
	}, []string{"scope"})

	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "auth",
		Name:      "token_verifications_total",
		Help:      "Session token verifications by result.",
	}, []string{"result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "status"})
)

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
