package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/trendoor/pkg/api/seriesstore"
	"github.com/ethpandaops/trendoor/pkg/trend"
)

// refreshConcurrency bounds the series conversion workers per pass.
const refreshConcurrency = 4

// refresher periodically regenerates the trend report and persists the
// analyzed series into the series store.
type refresher struct {
	log        logrus.FieldLogger
	analyzer   trend.Analyzer
	store      seriesstore.Store
	setReports func(markdown, html string)
	interval   time.Duration
	done       chan struct{}
	wg         sync.WaitGroup
}

func newRefresher(
	log logrus.FieldLogger,
	analyzer trend.Analyzer,
	store seriesstore.Store,
	setReports func(markdown, html string),
	interval time.Duration,
) *refresher {
	return &refresher{
		log:        log.WithField("component", "refresher"),
		analyzer:   analyzer,
		store:      store,
		setReports: setReports,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Start launches a background goroutine that runs an immediate refresh pass
// and then ticks at the configured interval.
func (r *refresher) Start(ctx context.Context) error {
	r.log.WithField("interval", r.interval.String()).Info("Starting refresher")

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		r.runPass(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.runPass(ctx)
			case <-r.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop signals the refresher goroutine to stop and waits for it.
func (r *refresher) Stop() error {
	close(r.done)
	r.wg.Wait()

	r.log.Info("Refresher stopped")

	return nil
}

// runPass regenerates the report and replaces the persisted series set.
func (r *refresher) runPass(ctx context.Context) {
	started := time.Now()

	report, err := r.analyzer.Generate()
	if err != nil {
		r.log.WithError(err).Error("Refresh pass failed")

		return
	}

	records := make([]seriesstore.Series, len(report.Series))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)

	for i, series := range report.Series {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			record, err := toRecord(series)
			if err != nil {
				return err
			}

			records[i] = record

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.log.WithError(err).Error("Series conversion failed")

		return
	}

	summary := &seriesstore.Summary{
		TotalSeries:            report.TotalSeries,
		Regressions:            report.Regressions,
		SignificantRegressions: report.SignificantRegressions,
		InvalidRows:            report.InvalidRows,
		RefreshedAt:            time.Now().UTC(),
	}

	if err := r.store.ReplaceSeries(ctx, records, summary); err != nil {
		r.log.WithError(err).Error("Persisting series failed")

		return
	}

	r.setReports(report.Markdown, report.HTML)

	r.log.WithFields(logrus.Fields{
		"series":   report.TotalSeries,
		"duration": time.Since(started).String(),
	}).Debug("Refresh pass complete")
}

func toRecord(series trend.Series) (seriesstore.Series, error) {
	points, err := json.Marshal(series.Points)
	if err != nil {
		return seriesstore.Series{}, err
	}

	return seriesstore.Series{
		Suite:          series.Suite,
		Scale:          series.Scale,
		TestCase:       series.Case,
		PointsJSON:     string(points),
		Latest:         series.Latest,
		BaselineMedian: series.BaselineMedian,
		ChangePct:      series.ChangePct,
		Status:         series.Status,
		PValue:         series.PValue,
		Significant:    series.Significant,
	}, nil
}
