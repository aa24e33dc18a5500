package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "remote-store",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker stops hammering an unreachable remote store. While open every call
// fails fast with ErrUnavailable. Reads and writes trip independently so a
// run of failing mutations never blocks manifest fetches.
type Breaker struct {
	next  Store
	fetch *gobreaker.CircuitBreaker[any]
	apply *gobreaker.CircuitBreaker[any]
}

func NewBreaker(next Store, cfg BreakerConfig) *Breaker {
	return &Breaker{
		next:  next,
		fetch: newCircuit(cfg, cfg.Name+"-fetch"),
		apply: newCircuit(cfg, cfg.Name+"-apply"),
	}
}

func newCircuit(cfg BreakerConfig, name string) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// a missing device or a rejected row says nothing about reachability
		IsSuccessful: func(err error) bool {
			return err == nil || Permanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RemoteBreakerState.WithLabelValues(name).Set(float64(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("remote store circuit breaker state changed")
		},
	}
	metrics.RemoteBreakerState.WithLabelValues(name).Set(0)
	return gobreaker.NewCircuitBreaker[any](settings)
}

func (b *Breaker) FetchState() gobreaker.State {
	return b.fetch.State()
}

func (b *Breaker) ApplyState() gobreaker.State {
	return b.apply.State()
}

func (b *Breaker) FetchAssignment(ctx context.Context, deviceCode string) (*model.Assignment, error) {
	res, err := b.fetch.Execute(func() (any, error) {
		return b.next.FetchAssignment(ctx, deviceCode)
	})
	record("fetch_assignment", err)
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return res.(*model.Assignment), nil
}

func (b *Breaker) Apply(ctx context.Context, m model.Mutation) error {
	_, err := b.apply.Execute(func() (any, error) {
		return nil, b.next.Apply(ctx, m)
	})
	record("apply", err)
	return mapBreakerErr(err)
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.RemoteRequests.WithLabelValues(op, result).Inc()
}
