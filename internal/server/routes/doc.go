// Package routes registers the /-/ diagnostics and event entry points on the
// agent's Fiber app: lifecycle status, visible notifications, Prometheus
// metrics, push delivery and notification clicks.
package routes
