// Package broker contains message broker implementations for ragmesh.
//
// InMemory is the default process-local broker: a concurrency-safe agent
// registry plus synchronous dispatch. Dispatch returns once the receiver's
// handler has returned; concurrency comes from independent Dispatch calls
// running in parallel, never from the broker itself being asynchronous.
//
// Registrations carrying an Address are forwarded through a Transport
// (HTTPTransport by default) instead of a local handler. The in-process
// path delivers exactly once in send order per sender/receiver pair; the
// remote path is at-most-once with no retries, so the two must not be
// assumed equivalent.
package broker
