package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const sweepTimeout = 30 * time.Second

// CodeExpirer flips pending pairing codes past their deadline to expired.
type CodeExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// SessionSweeper ends admin sessions whose deadline has passed.
type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type CleanupJob struct {
	codes    CodeExpirer
	sessions SessionSweeper
	interval time.Duration
	done     chan struct{}
	stopped  chan struct{}
}

func NewCleanupJob(codes CodeExpirer, sessions SessionSweeper, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		codes:    codes,
		sessions: sessions,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop halts the ticker and waits for an in-flight sweep to finish.
func (j *CleanupJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if j.codes != nil {
		j.runCleanup(ctx, "pairing codes", j.codes.ExpireStale)
	}
	if j.sessions != nil {
		j.runCleanup(ctx, "admin sessions", j.sessions.SweepExpired)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
