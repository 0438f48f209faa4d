// Package registry is the process-wide authority over running proxy
// instances.
//
// Each configuration id moves through Stopped, Starting, Running and
// Stopping. Operations on the same id are serialized; operations on
// different ids only contend on the short critical sections that read or
// mutate the instance map. An instance whose accept loop dies on its own is
// dropped from the map (Errored, which reads as Stopped) and its error is
// kept for LastError until the next successful start.
package registry
