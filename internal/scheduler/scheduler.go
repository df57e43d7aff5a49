package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/contrast-oss/license-exporter/internal/licensing"
	"github.com/rs/zerolog/log"
)

// Aggregator produces one aggregation result per call.
type Aggregator interface {
	Run(ctx context.Context) (*licensing.Result, error)
}

// Sink receives the outcome of each cycle.
type Sink interface {
	Publish(result *licensing.Result)
	RecordFailure(duration time.Duration)
}

// Scheduler drives aggregation cycles and forwards results to a Sink.
// Cycles never overlap: the environment clients are not shared safely
// between concurrent listings.
type Scheduler struct {
	aggregator Aggregator
	sink       Sink
	interval   time.Duration

	cycleMu sync.Mutex
	now     func() time.Time
}

// New creates a Scheduler that repeats every interval in Run.
func New(aggregator Aggregator, sink Sink, interval time.Duration) *Scheduler {
	return &Scheduler{
		aggregator: aggregator,
		sink:       sink,
		interval:   interval,
		now:        time.Now,
	}
}

// RunCycleAndPublish runs one aggregation cycle and publishes it. On
// failure nothing is published and the error is returned. Concurrent
// callers are serialized.
func (s *Scheduler) RunCycleAndPublish(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	return s.cycleLocked(ctx)
}

func (s *Scheduler) cycleLocked(ctx context.Context) error {
	started := s.now()
	result, err := s.aggregator.Run(ctx)
	if err != nil {
		s.sink.RecordFailure(s.now().Sub(started))
		return err
	}

	s.sink.Publish(result)
	log.Debug().
		Str("cycle_id", result.CycleID).
		Int("unique", result.UniqueCount).
		Msg("Published license counts")
	return nil
}

// Run repeats RunCycleAndPublish every interval until ctx is cancelled.
// A failed cycle is logged and retried on the next tick; a tick that fires
// while a cycle is still in progress is skipped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.interval).
		Msg("Scheduling license count updates")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("License count scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.cycleMu.TryLock() {
		log.Warn().Msg("Previous license count cycle still running, skipping this update")
		return
	}
	defer s.cycleMu.Unlock()

	if err := s.cycleLocked(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().
			Err(err).
			Dur("retry_in", s.interval).
			Msg("License count update failed, keeping previously published values")
	}
}
