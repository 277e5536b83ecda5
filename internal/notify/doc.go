// Package notify holds the notification display side effect and the
// notification click router.
//
// Center keeps the visible notifications keyed by their dedup tag, so a new
// notification with the same tag replaces the previous one instead of
// stacking. ClickRouter turns a click into exactly one focus or open-window
// action on the client registry.
package notify
