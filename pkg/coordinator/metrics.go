package coordinator

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/oursky/experiment-runner/pkg/utils/promutil"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	server *Server

	connected  *promutil.MetricDesc
	dispatches *prometheus.CounterVec
	results    *prometheus.CounterVec
}

func newMetrics(server *Server, r *prometheus.Registry) *metrics {
	m := &metrics{
		server: server,

		connected: promutil.NewMetricDesc(prometheus.Opts{
			Namespace: "experiment_runner",
			Subsystem: "coordinator",
			Name:      "runner_connected",
			Help:      "Describes whether the runner has a live session.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiment_runner",
			Subsystem: "coordinator",
			Name:      "dispatches_total",
			Help:      "Number of dispatch attempts by outcome.",
		}, []string{"outcome"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "experiment_runner",
			Subsystem: "coordinator",
			Name:      "results_total",
			Help:      "Number of run results received from runners.",
		}, []string{"successful"}),
	}
	if r != nil {
		r.MustRegister(promutil.CollectorFunc(m.collect), m.dispatches, m.results)
	}
	return m
}

func (m *metrics) collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ids, err := m.server.Sessions(ctx)
	if err != nil {
		return
	}
	for _, id := range ids {
		ch <- m.connected.Gauge(1, prometheus.Labels{"runner_id": strconv.FormatInt(id, 10)})
	}
}

func (m *metrics) observeDispatch(err error) {
	outcome := "sent"
	switch {
	case errors.Is(err, ErrRunnerUnavailable):
		outcome = "runner_unavailable"
	case err != nil:
		outcome = "send_failed"
	}
	m.dispatches.WithLabelValues(outcome).Inc()
}

func (m *metrics) observeResult(successful bool) {
	m.results.WithLabelValues(strconv.FormatBool(successful)).Inc()
}
