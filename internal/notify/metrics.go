package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toastd_submissions_total",
		Help: "Notification submissions by outcome.",
	}, []string{"outcome"})

	lifecycleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toastd_lifecycle_events_total",
		Help: "Notification lifecycle transitions.",
	}, []string{"event"})

	actionsRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toastd_actions_total",
		Help: "Executed notification actions by kind and result.",
	}, []string{"action", "result"})

	callbacksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toastd_callbacks_dropped_total",
		Help: "Activation callbacks that could not be resolved.",
	}, []string{"reason"})

	entriesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toastd_entries_purged_total",
		Help: "Activation entries removed by the TTL purge.",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "toastd_events_dropped_total",
		Help: "Lifecycle events not delivered to a slow subscriber.",
	})
)

// registryGauge reports the live registry size at scrape time.
func registryGauge(size func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "toastd_pending_entries",
		Help: "Activation entries waiting for a callback.",
	}, func() float64 { return float64(size()) })
}
