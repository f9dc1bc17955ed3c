// Package telemetry builds the process-wide logger, metrics registry and
// tracer provider from config.
//
// Every component in op-bridge takes its collaborators explicitly; this
// package only constructs them. The CLI installs the logger into each
// package with SetLogger and passes the registry and provider down.
package telemetry
