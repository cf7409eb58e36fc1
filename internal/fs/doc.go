// Package fs abstracts the local file system used by the catalog log.
//
// Production code uses [Default] ([LocalFS]). Crash and torn-write tests wrap
// it in a [FaultyFS], which can fail writes after a byte budget or fail
// fsync for files matching a name pattern:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("catalog.wal", fs.Fault{FailAfterBytes: 64})
//
// The interfaces carry no context.Context: local file operations are not
// interruptible at the syscall level. Remote storage goes through
// blobstore, which is context aware.
package fs
