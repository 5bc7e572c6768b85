// SPDX-FileCopyrightText: © 2026 The hushwire authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes prometheus counters for the sync engine.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushwire_events_processed_total",
			Help: "Number of raw events fed to a resolver",
		},
		[]string{"protocol"},
	)
	messagesDecrypted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushwire_messages_decrypted_total",
			Help: "Number of successfully decrypted messages",
		},
		[]string{"protocol"},
	)
	decryptionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushwire_decryption_failures_total",
			Help: "Number of per-event resolver failures by class",
		},
		[]string{"protocol", "class"},
	)
	batchesScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushwire_scan_batches_total",
			Help: "Number of historical scan batches issued",
		},
		[]string{"protocol"},
	)
	stateFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hushwire_state_flushes_total",
			Help: "Number of debounced state writes",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(eventsProcessed)
	prometheus.MustRegister(messagesDecrypted)
	prometheus.MustRegister(decryptionFailures)
	prometheus.MustRegister(batchesScanned)
	prometheus.MustRegister(stateFlushes)
}

// Init starts the metrics HTTP endpoint on addr.
func Init(addr string) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(addr, nil)
	}()
}

// EventProcessed counts a raw event handed to a resolver.
func EventProcessed(protocol string) {
	eventsProcessed.With(prometheus.Labels{"protocol": protocol}).Inc()
}

// MessageDecrypted counts a successful decryption.
func MessageDecrypted(protocol string) {
	messagesDecrypted.With(prometheus.Labels{"protocol": protocol}).Inc()
}

// DecryptionFailure counts a dropped event by failure class.
func DecryptionFailure(protocol, class string) {
	decryptionFailures.With(prometheus.Labels{"protocol": protocol, "class": class}).Inc()
}

// BatchScanned counts one historical scan batch.
func BatchScanned(protocol string) {
	batchesScanned.With(prometheus.Labels{"protocol": protocol}).Inc()
}

// StateFlush counts one state write attempt.
func StateFlush(result string) {
	stateFlushes.With(prometheus.Labels{"result": result}).Inc()
}
