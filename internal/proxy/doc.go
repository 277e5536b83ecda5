// Package proxy adapts Fiber requests into fetch events for the worker and
// streams the resolved responses back to the page, tagging each one with the
// strategy and source that produced it.
package proxy
