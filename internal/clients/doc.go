// Package clients tracks the application windows attached to the agent.
//
// Windows connect over WebSocket and are tracked in a Registry that offers
// the subset of the browser Clients API the agent needs: matchAll, focus,
// openWindow and claim. Windows opened by the agent are created through a
// Launcher and stay pending until the launched window connects back.
package clients
