// Package agent is the composition root of aurora-agent. It wires the cache
// storage, namespace manager, strategy router, interceptor, notification
// center, window registry, push handler and worker behind the Fiber front
// and the window channel, and owns the start and shutdown sequence.
package agent
