package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SizeProvider reports how many entries a store holds.
type SizeProvider interface {
	Count(ctx context.Context) (int, error)
}

// MetricsCollector periodically samples store sizes into gauges
type MetricsCollector struct {
	records   SizeProvider
	documents SizeProvider
	interval  time.Duration
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(records, documents SizeProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		records:   records,
		documents: documents,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), mc.interval)
	defer cancel()

	if mc.records != nil {
		if n, err := mc.records.Count(ctx); err != nil {
			log.Debug().Err(err).Msg("Failed to count records")
		} else {
			RecordCount.Set(float64(n))
		}
	}

	if mc.documents != nil {
		if n, err := mc.documents.Count(ctx); err != nil {
			log.Debug().Err(err).Msg("Failed to count documents")
		} else {
			DocumentCount.Set(float64(n))
		}
	}
}
