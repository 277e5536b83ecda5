// Package fetch implements the intercepted fetch exchange: the Request and
// Response types handed between the HTTP front and the worker, the network
// fetcher that resolves logical URLs to upstreams, and the Interceptor that
// executes a strategy.Class against the network and the current cache
// namespace.
//
// A Response body can be consumed once. Anything that needs to both store and
// return a response must Clone it first; the clone and the original read from
// the same immutable buffer through independent readers.
package fetch
