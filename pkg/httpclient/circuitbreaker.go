package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var circuitBreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state per downstream (0=closed, 1=half-open, 2=open).",
	},
	[]string{"name"},
)

// FallbackFunc produces a degraded response when the circuit is open.
// Returning a nil response propagates ErrCircuitOpen to the caller.
type FallbackFunc func(req *http.Request) (*http.Response, error)

// CircuitBreakerConfig tunes when the breaker trips and recovers.
type CircuitBreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailureRate float64
}

// DefaultCircuitBreakerConfig returns breaker defaults for the given downstream name.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		MinRequests: 5,
		FailureRate: 0.5,
	}
}

// CircuitBreakerClient wraps an HTTPDoer with a circuit breaker and an
// optional fallback used while the circuit is open.
type CircuitBreakerClient struct {
	doer     HTTPDoer
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	fallback FallbackFunc
	logger   *slog.Logger
}

// NewCircuitBreakerClient wraps doer with a breaker configured from cfg.
func NewCircuitBreakerClient(doer HTTPDoer, cfg CircuitBreakerConfig, fallback FallbackFunc, logger *slog.Logger) *CircuitBreakerClient {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			circuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &CircuitBreakerClient{
		doer:     doer,
		breaker:  gobreaker.NewCircuitBreaker[*http.Response](settings),
		fallback: fallback,
		logger:   logger,
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Do executes the request through the breaker. 5xx responses count as
// failures; 4xx responses pass through as successes since they indicate a
// caller problem, not downstream unavailability.
func (c *CircuitBreakerClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.doer.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, &DownstreamError{StatusCode: resp.StatusCode, URL: req.URL.String()}
		}
		return resp, nil
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		if c.fallback != nil {
			c.logger.Warn("circuit open, using fallback",
				slog.String("url", req.URL.String()),
			)
			return c.fallback(req)
		}
		return nil, ErrCircuitOpen
	}

	return resp, err
}

var _ HTTPDoer = (*CircuitBreakerClient)(nil)
