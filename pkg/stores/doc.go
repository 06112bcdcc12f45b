// Package stores persists function-tree snapshots: the recognized
// configuration (the functor is deliberately omitted) plus the
// serialized nodes of each rank's shard, in a WAL-mode SQLite file
// with embedded schema migrations.
package stores
