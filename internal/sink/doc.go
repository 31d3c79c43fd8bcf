// Package sink provides speech outputs for the delivery loop: a sink
// that drives the platform's command line synthesizer, a mock for tests
// and an adapter for plain functions.
package sink
