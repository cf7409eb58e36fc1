// Package backend defines the storage tier contract of the middleware.
//
// A Driver stores opaque fragments under caller-chosen keys and reports a
// capability Profile (capacity, usage, throughput class, availability).
// Drivers know nothing about datasets, variables or chunks.
//
// BlobDriver implements Driver on any blobstore.BlobStore and is what Open
// returns for every configured kind:
//
//	posix   a directory on a local or parallel file system
//	memory  process memory, for tests and scratch instances
//	s3      an S3 bucket (aws-sdk-go-v2)
//	minio   a MinIO or other S3 compatible endpoint (minio-go)
//
// Stored fragments carry a CRC32C of their logical bytes and are optionally
// compressed with LZ4 or Zstd. Put is idempotent: rewriting a key replaces
// the blob and adjusts usage by the size delta.
//
// Limited wraps a Driver with per-backend concurrency and bandwidth limits,
// and FaultyDriver injects failures for tests.
package backend
