package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once
	registerErr  error

	checkoutTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_total",
		Help: "Checkout attempts by result",
	}, []string{"result"}) // created|replayed|rejected|failed

	checkoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Latency of order commit",
		Buckets: prometheus.DefBuckets,
	})

	reservationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Stock holds taken",
	})

	reservationsReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_released_total",
		Help: "Stock holds returned to the ledger by terminal status",
	}, []string{"status"}) // cancelled|expired

	sweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_sweep_runs_total",
		Help: "Reclaimer sweeps by result",
	}, []string{"result"}) // ok|skipped|failed

	sweepReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservation_sweep_released_total",
		Help: "Holds released by the reclaimer sweep",
	})
)

// Register adds the collectors to reg (DefaultRegisterer when nil). Only the
// first call registers.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			checkoutTotal, checkoutDuration, reservationsCreated,
			reservationsReleased, sweepRuns, sweepReleased,
		} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func CheckoutResult(result string) { checkoutTotal.WithLabelValues(result).Inc() }

func ObserveCheckout(start time.Time) { checkoutDuration.Observe(time.Since(start).Seconds()) }

func ReservationCreated(n int) { reservationsCreated.Add(float64(n)) }

func ReservationReleased(status string) { reservationsReleased.WithLabelValues(status).Inc() }

func SweepRun(result string, released int) {
	sweepRuns.WithLabelValues(result).Inc()
	if released > 0 {
		sweepReleased.Add(float64(released))
	}
}
