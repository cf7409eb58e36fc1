// Package testutil provides testing utilities for esdm.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random source and helpers to convert between typed
// slices and the little-endian byte layout variables are stored in.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	vals := rng.Float32s(1024)
//	data := testutil.Float32Bytes(vals)
//
// # Regions
//
//	grid := testutil.Sequence(100) // 0, 1, ..., 99 as float32
package testutil
