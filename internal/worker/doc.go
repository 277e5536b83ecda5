// Package worker hosts the agent lifecycle and its single event dispatcher.
//
// A Worker moves through parsed, installing, installed, activating and
// activated, and ends redundant. Every event (install, activate, fetch,
// push, notificationclick) runs as a task in the Tasks registry, detached
// from the cancellation of whatever delivered it, and Shutdown drains those
// tasks before the worker becomes redundant. Until the worker is activated
// fetch events pass straight through to the network.
package worker
