// Package control
// Author: momentics <momentics@gmail.com>
//
// Control plane for the file daemon: configuration file loading, Prometheus
// metrics, debug probes and the optional admin HTTP listener.
//
// Nothing in this package runs on the reactor goroutine except metric
// updates, which are lock-free collector operations.
package control
