// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import (
	"fmt"
	"net/http"

	"github.com/luxfi/log"
	"github.com/luxfi/metric"
	"github.com/luxfi/pubsub"
)

const eventLabel = "event"

var eventLabels = []string{eventLabel}

// Bus publishes domain events to external subscribers and counts every
// emission. Exactly-once emission is owned by the callers' one-way state
// transitions; the bus itself never deduplicates.
type Bus struct {
	log    log.Logger
	server *pubsub.Server

	numEvents metric.CounterVec
}

func NewBus(log log.Logger, registerer metric.Registerer) (*Bus, error) {
	bus := &Bus{
		log:    log,
		server: pubsub.New(log),
		numEvents: metric.NewCounterVec(
			metric.CounterOpts{
				Name: "events_emitted",
				Help: "number of domain events emitted",
			},
			eventLabels,
		),
	}
	if registerer != nil {
		if err := registerer.Register(metric.AsCollector(bus.numEvents)); err != nil {
			return nil, fmt.Errorf("failed to register event metric: %w", err)
		}
	}
	return bus, nil
}

// Emit publishes the event to subscribers filtered by transaction id.
func (b *Bus) Emit(event *Event) {
	b.numEvents.With(metric.Labels{
		eventLabel: event.Type.String(),
	}).Inc()
	b.server.Publish(NewFilterer(event))
	b.log.Debug("emitted event",
		log.Stringer("type", event.Type),
		log.Stringer("txID", event.TxID),
	)
}

// EventsHandler returns the subscription endpoint to mount on the API
// server.
func (b *Bus) EventsHandler() http.Handler {
	return b.server
}
