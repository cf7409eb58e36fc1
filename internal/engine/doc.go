// Package engine implements the data path of the middleware.
//
// A write is planned against the variable's chunk grid, each chunk is
// placed on one or more backends chosen by the scheduler, and only when
// every chunk holds at least one durable replica are the fragments
// committed to the catalog in a single record. A read resolves the
// requested box to fragments, fetches one replica per chunk and copies the
// overlapping bytes into the caller's buffer.
//
// Fragments are never visible before their commit, and a failed or
// cancelled write deletes whatever it had already stored.
package engine
