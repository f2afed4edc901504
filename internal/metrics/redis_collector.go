package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// sessionCollector reports how many session views are currently stored in
// Redis. Keys expire with the session TTL, so the count tracks live sessions.
type sessionCollector struct {
	rdb     *redis.Client
	logger  *slog.Logger
	pattern string

	sessionsDesc *prometheus.Desc
}

func newSessionCollector(rdb *redis.Client, pattern string, logger *slog.Logger) *sessionCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionCollector{
		rdb:     rdb,
		logger:  logger,
		pattern: pattern,
		sessionsDesc: prometheus.NewDesc(
			"nftbatch_sessions_active",
			"Current number of browser sessions holding a status view.",
			nil,
			nil,
		),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rdb == nil {
		return
	}

	// Keep Redis reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := CountKeys(ctx, c.rdb, c.pattern)
	if err != nil {
		c.logger.Warn("prometheus session collector failed", "err", err)
		return
	}
	emitGauge(ch, c.sessionsDesc, float64(n))
}

// CountKeys walks the keyspace with SCAN so large stores never block Redis.
func CountKeys(ctx context.Context, rdb *redis.Client, pattern string) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return 0, err
		}
		total += int64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerSessionCollectorOnce sync.Once

func RegisterSessionCollector(rdb *redis.Client, pattern string, logger *slog.Logger) {
	registerSessionCollectorOnce.Do(func() {
		prometheus.MustRegister(newSessionCollector(rdb, pattern, logger))
	})
}
