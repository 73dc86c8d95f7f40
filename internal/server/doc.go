// Package server implements the core of the encrypted multi-room chat
// relay: session registry, room management, command dispatch, and the
// per-connection handler goroutines.
//
// The implementation is organized into specialized files for
// configuration, hub state, clients, transports, command dispatch, and
// the listeners to keep the codebase maintainable and testable as the
// project grows.
package server
