// Package metrics exposes Prometheus counters for the update pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline counters. Create it once per process with New.
type Metrics struct {
	Batches          prometheus.Counter
	UpdatesProcessed prometheus.Counter
	DecodeFailures   prometheus.Counter
	Acknowledged     prometheus.Counter
	PollFailures     prometheus.Counter
	PluginFailures   *prometheus.CounterVec // plugin
	Commands         *prometheus.CounterVec // command
	SendAttempts     prometheus.Counter
	MessagesSent     *prometheus.CounterVec // status: ok | dropped

	gatherer prometheus.Gatherer
}

// New registers the counters on reg. A nil reg gets a private registry,
// which is what tests and one-shot runs use.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampy_batches_total",
			Help: "Dispatch cycles run.",
		}),
		UpdatesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampy_updates_processed_total",
			Help: "Updates taken from a polled batch.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampy_updates_decode_failures_total",
			Help: "Updates normalized with decode_ok=false.",
		}),
		Acknowledged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampy_acknowledgements_total",
			Help: "Batch acknowledgements sent to the API.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampy_poll_failures_total",
			Help: "getUpdates calls that failed and yielded an empty batch.",
		}),
		PluginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stampy_plugin_failures_total",
			Help: "Plugin init/run calls that returned an error or panicked.",
		}, []string{"plugin"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stampy_commands_total",
			Help: "Administrative commands matched by the router.",
		}, []string{"command"}),
		SendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampy_send_attempts_total",
			Help: "sendMessage requests issued, retries included.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stampy_messages_sent_total",
			Help: "Outbound message chunks by final status.",
		}, []string{"status"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Batches, m.UpdatesProcessed, m.DecodeFailures, m.Acknowledged, m.PollFailures,
		m.PluginFailures, m.Commands, m.SendAttempts, m.MessagesSent,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
