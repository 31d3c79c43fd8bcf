// Package queue is the durable notification queue.
//
// Envelopes are persisted in a SQLite database so that a message accepted
// by a short-lived caller survives that caller's exit and a crash of the
// worker. The Broker hands envelopes out highest priority first, the
// Producer is the caller-side API, and the Consumer is the worker loop
// that delivers each envelope to a speech sink with bounded retries.
package queue
