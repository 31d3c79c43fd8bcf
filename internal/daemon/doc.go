// Package daemon keeps exactly one queue worker alive per host.
//
// Callers are short-lived processes that never share memory, so every
// decision is made from files in the runtime directory: a pid record, a
// startup lock distinct from it, and a status file the worker refreshes.
// The Manager starts, stops and inspects the worker; RunWorker is the
// worker's main loop; the Reloader respawns the worker when source files
// change during development.
package daemon
