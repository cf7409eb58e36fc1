// Package catalog implements the metadata catalog: the durable mapping from
// datasets, dimensions and variables to the chunk boxes and fragments that
// store their data.
//
// # Consistency
//
// Every mutation is validated, made durable through a Journal, and only then
// applied to the in-memory state that readers resolve against. Readers never
// observe a mutation whose journal record is not durable.
//
// Mutations on one variable are serialized by a per-variable commit mutex.
// Schema changes on a dataset (new dimensions, new variables, dataset
// attributes) are serialized by a per-dataset gate that also excludes
// concurrent variable commits in that dataset. Commits on different
// variables proceed concurrently.
//
// # Chunk Index
//
// Each variable tiles its index space with a fixed grid (the chunk shape).
// A committed chunk box lies inside exactly one grid cell; several
// non-overlapping chunk boxes may share a cell when a cell was filled by
// successive appends. Occupied cells are tracked in a roaring64 bitmap keyed
// by the cell's linear id.
//
// # Journals
//
//   - LogJournal appends records to a write-ahead log and periodically folds
//     them into a snapshot (see internal/manifest).
//   - SnapshotJournal writes a full snapshot per commit. Combined with a
//     store that updates CURRENT conditionally, concurrent writers from
//     different processes surface as commit failures.
//   - MemoryJournal keeps nothing.
package catalog
