package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by status.",
		},
		[]string{"status"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	overlapConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "overlap_conflicts_total",
			Help:      "Count of reservation attempts rejected by the overlap check.",
		},
	)

	lockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "lock_timeouts_total",
			Help:      "Count of reservation attempts that failed to acquire the room lock.",
		},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reservation",
			Name:      "lock_wait_seconds",
			Help:      "Time spent inside a locked reservation attempt.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	groupConfirm = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation",
			Name:      "group_confirm_total",
			Help:      "Count of group confirmation passes by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingCancelled,
			overlapConflicts,
			lockTimeouts,
			lockWait,
			groupConfirm,
		)
	})
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncOverlapConflict() {
	overlapConflicts.Inc()
}

func IncLockTimeout() {
	lockTimeouts.Inc()
}

func ObserveLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

func IncGroupConfirm(outcome string) {
	groupConfirm.WithLabelValues(outcome).Inc()
}
