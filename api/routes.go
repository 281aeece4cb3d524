// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/relay"
	"github.com/luxfi/relay/api/health"
)

const (
	// RelayEndpoint is the path the JSON-RPC service is served on.
	RelayEndpoint = "/ext/relay"
	// EventsEndpoint is the path the event subscription websocket is
	// served on.
	EventsEndpoint = "/ext/events"
	// HealthEndpoint is the path the liveness probe is served on.
	HealthEndpoint = "/ext/health"
	// MetricsEndpoint is the path the metrics registry is served on.
	MetricsEndpoint = "/ext/metrics"
)

// Routes assembles the HTTP routes of the relay daemon: the JSON-RPC
// service, the event subscription websocket, and the metrics registry.
func Routes(log log.Logger, r *relay.Relay, registry metric.Registry) (http.Handler, error) {
	handler, err := NewHandler(log, r, registry)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	router.Handle(RelayEndpoint, handler)
	router.Handle(EventsEndpoint, r.EventsHandler())
	router.Handle(HealthEndpoint, health.Handler(r))
	router.Handle(MetricsEndpoint, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return router, nil
}
