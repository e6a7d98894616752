package common

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Process wide metrics. All names share the wbridge_ prefix.

func routeMetric(name, route string) string {
	return fmt.Sprintf(`wbridge_%s{route=%q}`, name, route)
}

// ObserveRequest records a finished request/reply round trip on route
func ObserveRequest(route string, start time.Time, err error) {
	metrics.GetOrCreateCounter(routeMetric("requests_total", route)).Inc()
	metrics.GetOrCreateHistogram(routeMetric("request_duration_seconds", route)).UpdateDuration(start)
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`wbridge_request_errors_total{route=%q,kind=%q}`, route, errorLabel(err))).Inc()
	}
}

// IncRetries counts a resend of a request on route
func IncRetries(route string) {
	metrics.GetOrCreateCounter(routeMetric("retries_total", route)).Inc()
}

// IncReconciliations counts a reconciliation read, outcome is "confirmed", "absent" or "failed"
func IncReconciliations(route, outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`wbridge_reconciliations_total{route=%q,outcome=%q}`, route, outcome)).Inc()
}

// IncConnectionsLost counts connections that transitioned to the lost state
func IncConnectionsLost(endpoint string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`wbridge_connections_lost_total{endpoint=%q}`, RedactEndpoint(endpoint))).Inc()
}

// IncServed counts a request handled by the catalog responder
func IncServed(route string, err error) {
	metrics.GetOrCreateCounter(routeMetric("served_total", route)).Inc()
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`wbridge_served_errors_total{route=%q,kind=%q}`, route, errorLabel(err))).Inc()
	}
}

// WriteMetrics writes all metrics in prometheus text format
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, true)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case IsTransient(err):
		return "transient"
	default:
		return KindOf(err).String()
	}
}
