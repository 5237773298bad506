package api

import "github.com/mattjoyce/switchyard/internal/gateway"

// ErrorResponse is returned on transport-level errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Outstanding   int            `json:"outstanding"`
	QueueDepths   map[string]int `json:"queue_depths"`
	Routes        int            `json:"routes"`
}

// RoutesResponse is returned by GET /routes.
type RoutesResponse struct {
	Routes []gateway.Route `json:"routes"`
}
