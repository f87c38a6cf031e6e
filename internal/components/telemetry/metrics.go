package telemetry

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("parcelharvest")

// counters maps report ids onto lazily created otel counters.
type counters struct {
	mutex sync.Mutex
	byId  map[string]metric.Int64Counter
}

var reportCounters = &counters{byId: map[string]metric.Int64Counter{}}

// instrumentName turns "harvest: orchestrator.processed" into
// "harvest.orchestrator.processed".
func instrumentName(id string) string {
	return strings.ReplaceAll(id, ": ", ".")
}

func (c *counters) add(id string, n int64) error {
	c.mutex.Lock()
	counter, ok := c.byId[id]
	if !ok {
		var err error
		counter, err = meter.Int64Counter(instrumentName(id))
		if err != nil {
			c.mutex.Unlock()
			return err
		}
		c.byId[id] = counter
	}
	c.mutex.Unlock()

	counter.Add(context.Background(), n)
	return nil
}
