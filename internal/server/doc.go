// Package server hosts the Fiber HTTP front of the agent: the request
// middleware chain, the Host-based origin registry that maps logical origins
// (the app origin and the API hosts) to their upstreams, and the shared
// upstream HTTP client. Every request outside the /-/ diagnostics prefix is
// handed to a ProxyHandler together with its resolved OriginRoute; keep
// exports narrow and accept explicit dependencies.
package server
