// Package metrics exposes collector-side counters over a dedicated
// prometheus registry, optionally served on an HTTP listener by the collect
// command.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds the collector's instruments. A fresh registry per session keeps
// tests and parallel collectors from colliding on the default registerer.
type Set struct {
	registry *prometheus.Registry

	EventsReceived      prometheus.Counter
	FilesRegistered     prometheus.Counter
	TransitionsRecorded prometheus.Counter
	MalformedSkipped    prometheus.Counter
	EventsRejected      prometheus.Counter
	EventsEvicted       prometheus.Counter
}

// New creates and registers the collector instrument set.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blind",
			Name:      "events_received_total",
			Help:      "Trace events appended to the session log",
		}),
		FilesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blind",
			Name:      "files_registered_total",
			Help:      "Source file registrations received",
		}),
		TransitionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blind",
			Name:      "transitions_recorded_total",
			Help:      "Cross-file transitions recorded",
		}),
		MalformedSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blind",
			Name:      "malformed_messages_total",
			Help:      "Wire messages skipped because they could not be parsed",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blind",
			Name:      "events_rejected_total",
			Help:      "Events rejected for violating event id ordering",
		}),
		EventsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blind",
			Name:      "events_evicted_total",
			Help:      "Oldest events dropped under the configured memory bound",
		}),
	}
	reg.MustRegister(
		s.EventsReceived,
		s.FilesRegistered,
		s.TransitionsRecorded,
		s.MalformedSkipped,
		s.EventsRejected,
		s.EventsEvicted,
	)
	return s
}

// Handler returns the HTTP handler serving this set's registry.
func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
