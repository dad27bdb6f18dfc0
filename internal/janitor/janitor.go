// Package janitor runs a periodic backstop sweep over the reactive runtime:
// each tick reports how many computations are currently live, and evicts any
// TTL cached value whose expiry deadline has already passed. Eviction is
// ordinarily done by each computation's own expiry timer; this sweep exists
// to catch the case where a timer got starved (a busy process, a late
// goroutine schedule) and a stale value would otherwise outlive its TTL.
package janitor

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/streamspace/reactive-query-server/internal/metrics"
)

// Janitor wraps a single cron.Cron running one sweep job.
type Janitor struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New builds a Janitor that, on the given schedule, reports countActive as
// the reactive_computations_active gauge and runs evictExpired as a TTL
// eviction backstop. It does not start running until Start is called.
func New(schedule string, countActive func() int, evictExpired func() int, log zerolog.Logger) (*Janitor, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n := countActive()
		metrics.ComputationsActive.Set(float64(n))

		evicted := evictExpired()
		if evicted > 0 {
			metrics.CacheEvictions.Add(float64(evicted))
		}

		log.Debug().Int("active", n).Int("evicted", evicted).Msg("janitor sweep")
	})
	if err != nil {
		return nil, err
	}
	return &Janitor{cron: c, log: log}, nil
}

// Start begins running the scheduled sweep in the background.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() { j.cron.Stop() }
