// Package cache defines the disk-backed, namespaced store that holds response
// snapshots for the agent. Each namespace maps to StoragePath/<namespace>/ and
// each entry is a single file named after the digest of its (method, URL)
// key. Writes go through a temp file + rename so a reader observes either the
// previous snapshot or the new one, never a partial write. The namespace
// manager enumerates and deletes whole namespaces; the fetch interceptor only
// matches and puts entries in the current one.
package cache
