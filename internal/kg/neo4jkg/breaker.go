package neo4jkg

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sony/gobreaker"

	"github.com/ZanzyTHEbar/kg-provider-go/internal/config"
	"github.com/ZanzyTHEbar/kg-provider-go/internal/kgerr"
)

// minTripRequests keeps a single early failure from opening the breaker.
const minTripRequests = 3

// guard runs driver calls through an optional circuit breaker.
type guard struct {
	cb *gobreaker.CircuitBreaker
}

func newGuard(cfg config.BreakerConfig, logger *log.Logger) *guard {
	if !cfg.Enabled {
		return &guard{}
	}
	st := gobreaker.Settings{
		Name:        "neo4j",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minTripRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				logger.Warn("circuit breaker opened", "name", name, "from", from.String())
				return
			}
			logger.Info("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: countsAsSuccess,
	}
	return &guard{cb: gobreaker.NewCircuitBreaker(st)}
}

// countsAsSuccess keeps caller mistakes from tripping the breaker: only
// connectivity, transient and database-side failures count.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Classification() == "ClientError"
	}
	return false
}

func (g *guard) run(fn func() (any, error)) (any, error) {
	if g.cb == nil {
		return fn()
	}
	return g.cb.Execute(fn)
}

// classify maps a driver error onto the provider error codes.
func classify(err error, fallback kgerr.Code, msg string) error {
	if err == nil {
		return nil
	}
	if kgerr.CodeOf(err) != "" {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return kgerr.FromContext(err, fallback, msg)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return kgerr.Wrap(err, kgerr.CodeBackendUnavailable, msg)
	case neo4j.IsConnectivityError(err):
		return kgerr.Wrap(err, kgerr.CodeBackendUnavailable, msg)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Classification() == "ClientError" {
		return kgerr.Wrap(err, kgerr.CodeQueryFailure, msg)
	}
	return kgerr.Wrap(err, fallback, msg)
}
