// Package metrics exports inbox activity as Prometheus collectors.
package metrics
