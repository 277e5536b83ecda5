// Package bus connects the agent to a NATS server.
//
// PushSubscriber turns every message on the push subject into a push event
// for the worker. WindowLauncher publishes open-window requests so that a
// desktop shell (or any other subscriber) can open the application window.
package bus
