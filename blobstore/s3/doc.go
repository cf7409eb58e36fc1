// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// Store keeps fragments (or catalog snapshots) as objects under a prefix.
// Put goes through the s3 manager uploader, which switches to multipart
// uploads for large chunks.
//
//	s3c, ddb, err := s3.LoadClients(ctx, s3.ClientConfig{Region: "eu-central-1"})
//	store := s3.NewStore(s3c, "esdm-data", "tier-object/")
//
// DDBCommitStore layers a DynamoDB conditional write over a Store so the
// catalog's CURRENT snapshot pointer can only move forward one version at a
// time, even with several writers.
package s3
