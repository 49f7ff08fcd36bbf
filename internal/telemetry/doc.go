// Package telemetry installs the OpenTelemetry tracer and meter providers.
//
// When disabled, New returns an instance whose providers are the global
// no-op defaults, so instrumented packages never need to check whether
// telemetry is on. Exporter failures degrade the instance instead of
// failing startup.
package telemetry
