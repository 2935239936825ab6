package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	prometheusStatusUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buildbroker",
		Subsystem: "coordinator",
		Name:      "status_updates_total",
		Help:      "Number of worker status messages received by the coordinator.",
	})
	prometheusWorkerListRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buildbroker",
		Subsystem: "coordinator",
		Name:      "worker_list_requests_total",
		Help:      "Number of worker list requests received by the coordinator.",
	})
	prometheusRecordsPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "buildbroker",
		Subsystem: "coordinator",
		Name:      "records_pruned_total",
		Help:      "Number of stale worker records pruned by the coordinator.",
	})
	prometheusWorkersAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "buildbroker",
		Subsystem: "coordinator",
		Name:      "workers_available",
		Help:      "Number of workers currently advertised as available.",
	})
)

func init() {
	prometheus.MustRegister(
		prometheusStatusUpdates,
		prometheusWorkerListRequests,
		prometheusRecordsPruned,
		prometheusWorkersAvailable,
	)
}

func incStatusUpdates(n int) {
	prometheusStatusUpdates.Add(float64(n))
}

func incWorkerListRequests(n int) {
	prometheusWorkerListRequests.Add(float64(n))
}

func incRecordsPruned(n int) {
	prometheusRecordsPruned.Add(float64(n))
}

func setWorkersAvailable(n int) {
	prometheusWorkersAvailable.Set(float64(n))
}
