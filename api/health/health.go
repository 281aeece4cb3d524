// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package health serves the liveness of a relay node.
package health

import (
	"context"
	"encoding/json"
	"net/http"
)

// Reporter is the probe the handler serves.
type Reporter interface {
	HealthCheck(ctx context.Context) (interface{}, error)
}

// Handler serves the reporter's details as JSON, with a 503 status when
// the probe fails.
func Handler(reporter Reporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		details, err := reporter.HealthCheck(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"healthy": false,
				"error":   err.Error(),
			})
			return
		}
		_ = json.NewEncoder(w).Encode(details)
	})
}
