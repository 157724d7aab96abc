// Package keyed provides per-key concurrency primitives.
//
// Mutex gives each key its own lock (used for per-identity credential
// read-modify-write). Serializer gives each key its own FIFO lane (used
// so that chat events of one session are handled in arrival order while
// different sessions proceed in parallel).
package keyed
