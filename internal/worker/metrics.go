package worker

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the Prometheus series a running queue exposes. Callers
// register it once against a registry (or promauto's default) at startup.
type Metrics struct {
	WorkersActive     prometheus.Gauge
	WorkerTaskLoad    *prometheus.GaugeVec
	TasksDispatched   prometheus.Counter
	NoWorkerAvailable prometheus.Counter
	NoExecutorFound   prometheus.Counter
	ValidationFailed  prometheus.Counter
	WorkerRestarts    prometheus.Counter
}

// NewMetrics constructs the metric set without registering it, so callers
// choose the registry.
func NewMetrics() *Metrics {
	return &Metrics{
		WorkersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "anqueue_workers_active",
			Help: "Number of worker processes currently tracked by the manager.",
		}),
		WorkerTaskLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "anqueue_worker_task_load",
			Help: "Cached task load per worker.",
		}, []string{"worker_id"}),
		TasksDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anqueue_tasks_dispatched_total",
			Help: "Tasks successfully handed to a worker.",
		}),
		NoWorkerAvailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anqueue_dispatch_no_worker_total",
			Help: "Dispatch attempts that found no available worker.",
		}),
		NoExecutorFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anqueue_dispatch_no_executor_total",
			Help: "Dispatch attempts for a task type with no registered executor.",
		}),
		ValidationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anqueue_dispatch_validation_failed_total",
			Help: "Dispatch attempts rejected by an executor's validation schema.",
		}),
		WorkerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "anqueue_worker_restarts_total",
			Help: "Worker restart attempts after an unclean exit.",
		}),
	}
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.WorkersActive, m.WorkerTaskLoad, m.TasksDispatched,
		m.NoWorkerAvailable, m.NoExecutorFound, m.ValidationFailed, m.WorkerRestarts,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
