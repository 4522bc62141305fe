package metrics

import (
	"context"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats(ctx context.Context) (Stats, error)
}

// DBMetricsUpdater refreshes connection pool metrics.
type DBMetricsUpdater interface {
	UpdateDBMetrics()
}

// Stats holds the current catalog statistics
type Stats struct {
	TotalFiles     int
	UntaggedFiles  int
	MissingFiles   int
	TotalTags      int
	TotalLocations int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	dbUpdater     DBMetricsUpdater
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector. If the provider also
// implements DBMetricsUpdater its connection metrics are refreshed on
// every tick.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	c := &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
	if u, ok := provider.(DBMetricsUpdater); ok {
		c.dbUpdater = u
	}
	return c
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.dbUpdater != nil {
		c.dbUpdater.UpdateDBMetrics()
	}

	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stats, err := c.statsProvider.GetStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	CatalogFilesTotal.WithLabelValues("all").Set(float64(stats.TotalFiles))
	CatalogFilesTotal.WithLabelValues("untagged").Set(float64(stats.UntaggedFiles))
	CatalogFilesTotal.WithLabelValues("missing").Set(float64(stats.MissingFiles))
	CatalogTagsTotal.Set(float64(stats.TotalTags))
	CatalogLocationsTotal.Set(float64(stats.TotalLocations))

	logging.Debug("Metrics collected: files=%d, untagged=%d, missing=%d, tags=%d",
		stats.TotalFiles, stats.UntaggedFiles, stats.MissingFiles, stats.TotalTags)
}
