// Package jobs runs the engine's periodic background work.
package jobs

import (
	"context"
	"time"

	"github.com/admitpath/advisory-engine/internal/service"
	"github.com/admitpath/advisory-engine/pkg/logger"
)

// SweepJob periodically summarizes conversations whose enqueue was lost or
// never happened: crashed processes, dropped publishes, tabs that vanished
// without an end signal. Together with enqueue-on-detection it gives the
// pipeline its at-least-once guarantee.
type SweepJob struct {
	summarizer   *service.SummarizerService
	activeWindow time.Duration
	interval     time.Duration
	limit        int
	logger       *logger.Logger

	done chan struct{}
}

// NewSweepJob creates a sweep job. limit bounds how many conversations one
// pass will process.
func NewSweepJob(summarizer *service.SummarizerService, activeWindow, interval time.Duration, limit int, log *logger.Logger) *SweepJob {
	return &SweepJob{
		summarizer:   summarizer,
		activeWindow: activeWindow,
		interval:     interval,
		limit:        limit,
		logger:       log,
		done:         make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. The first pass runs
// immediately so a restart drains backlog without waiting an interval.
func (j *SweepJob) Start() {
	go j.run()
	j.logger.Info("summarization sweep started",
		"interval", j.interval.String(), "limit", j.limit)
}

// Stop terminates the loop. The in-flight sweep, if any, finishes first.
func (j *SweepJob) Stop() {
	close(j.done)
}

func (j *SweepJob) run() {
	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.done:
			return
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()

	cutoff := time.Now().Add(-j.activeWindow)
	processed, err := j.summarizer.ProcessPending(ctx, cutoff, j.limit)
	if err != nil {
		j.logger.Error("summarization sweep failed", "error", err)
		return
	}
	if processed > 0 {
		j.logger.Info("summarization sweep completed", "processed", processed)
	}
}
