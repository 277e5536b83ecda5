// Package push turns inbound push messages into notifications.
//
// A message without data is logged and dropped. A message with data is read
// as text and parsed as JSON {title?, body?, url?}; anything that does not
// parse produces a fixed fallback notification instead of an error. Either
// way exactly one notification is displayed.
package push
