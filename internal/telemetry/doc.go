// Package telemetry provides OpenTelemetry initialization and the HTTP
// tracing middleware for the easel service.
//
// Configure sets up OTLP HTTP export for traces, metrics and logs when an
// endpoint is given. Without one, spans are recorded in-process only.
package telemetry
