// Package manifest implements atomic catalog snapshots on a blob store.
//
// # Overview
//
// A manifest is a full snapshot of the metadata catalog at a point in time,
// together with the highest log sequence number (LSN) it contains. The
// catalog loads the snapshot and then replays log records with a larger LSN.
//
// # Binary Format
//
//	Header (16 bytes):
//	  Magic    (4 bytes) - 0x4D445345 ("ESDM")
//	  Version  (4 bytes) - Format version (currently 1)
//	  Checksum (4 bytes) - CRC32C of payload
//	  Length   (4 bytes) - Payload length in bytes
//
//	Payload:
//	  ID        (8 bytes) - Snapshot ID
//	  CreatedAt (8 bytes) - Unix nanoseconds
//	  MaxLSN    (8 bytes) - Last log record folded into the state
//	  Codec     (string)  - Name of the codec that encoded State
//	  StateLen  (4 bytes)
//	  State     (bytes)
//
// Strings are length-prefixed (2-byte length + bytes).
//
// # Atomic Protocol
//
//  1. Write the snapshot blob to CATALOG-NNNNNN-<writer>.bin
//  2. Update the CURRENT pointer blob to reference it
//
// The writer token keeps two instances racing for the same ID from
// overwriting each other's blob. On stores with conditional pointer updates
// (see blobstore/s3.DDBCommitStore) the loser gets blobstore.ErrConflict and
// its blob is removed again.
package manifest
