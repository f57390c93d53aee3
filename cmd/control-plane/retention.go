package main

import (
	"time"

	"github.com/cuemby/agentctl/pkg/metrics"
	"github.com/cuemby/agentctl/pkg/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// startRetentionPruner schedules a cron job that deletes terminal runs older
// than retention. It returns the running cron.Cron so the caller can stop
// it on shutdown.
func startRetentionPruner(store storage.Store, schedule string, retention time.Duration, logger zerolog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		pruneRuns(store, retention, logger)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func pruneRuns(store storage.Store, retention time.Duration, logger zerolog.Logger) {
	runs, err := store.ListRuns()
	if err != nil {
		logger.Error().Err(err).Msg("retention: listing runs")
		return
	}

	cutoff := time.Now().Add(-retention)
	pruned := 0
	for _, run := range runs {
		if run.TerminalAt == nil || run.TerminalAt.After(cutoff) {
			continue
		}
		if err := store.DeleteRun(run.ID); err != nil {
			logger.Warn().Err(err).Str("run_id", run.ID).Msg("retention: deleting run")
			continue
		}
		pruned++
	}
	if pruned > 0 {
		metrics.RunsPrunedTotal.Add(float64(pruned))
		logger.Info().Int("pruned", pruned).Msg("retention: pruned terminal runs")
	}
}
