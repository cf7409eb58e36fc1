// Package blobstore provides the storage abstraction behind backend drivers
// and catalog snapshots.
//
// A BlobStore holds immutable, whole-object blobs addressed by slash
// separated names. Implementations must be safe for concurrent use, make Put
// atomic (readers see the old blob or the new one, never a mix) and make
// Delete idempotent.
//
// # Built-in Implementations
//
//   - LocalStore: local or parallel file system, atomic rename on Put
//   - MemoryStore: in-process, for tests and scratch tiers
//   - s3.Store: Amazon S3 via aws-sdk-go-v2, multipart uploads for large blobs
//   - s3.DDBCommitStore: S3 plus a DynamoDB conditional CURRENT pointer
//   - minio.Store: MinIO and other S3-compatible stores
package blobstore
