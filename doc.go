// Package esdm is an earth-system data middleware core: it stores
// multi-dimensional scientific variables as chunk fragments spread over
// heterogeneous storage backends and serves arbitrary hyper-rectangular
// regions back to the caller.
//
// # Quick Start
//
//	cfg := esdm.DefaultConfig()
//	cfg.Backends = []backend.Config{
//	    {Name: "fast", Kind: "posix", Endpoint: "/nvme/esdm", ThroughputClass: 4},
//	    {Name: "tape", Kind: "posix", Endpoint: "/archive/esdm", ThroughputClass: 1},
//	}
//	cfg.Metadata = esdm.MetadataConfig{Kind: "posix", Endpoint: "/nvme/esdm-md"}
//
//	inst, _ := esdm.Open(ctx, cfg)
//	defer inst.Close()
//
//	ds, _ := inst.CreateDataset(ctx, "climate/run-42")
//	ds.CreateDimension(ctx, "time", esdm.Unlimited)
//	ds.CreateDimension(ctx, "lat", 180)
//	ds.CreateDimension(ctx, "lon", 360)
//	temp, _ := ds.CreateVariable(ctx, "temp", model.Float32, []string{"time", "lat", "lon"})
//
//	temp.Write(ctx, []int64{0, 0, 0}, []int64{24, 180, 360}, buf)
//	region, _ := temp.Read(ctx, []int64{12, 90, 0}, []int64{1, 1, 360})
//
// # Durability Model
//
// A write returns only after every chunk of the region is stored on at
// least one backend and the fragment placements are committed to the
// catalog in a single record. Readers see either the whole write or none
// of it. A failed write leaves no fragments behind.
//
// Chunks are write-once: a region that overlaps committed data fails with
// ErrConflict. Dimensions declared Unlimited grow as data is appended
// along them.
//
// # Configuration
//
// Config can be loaded from a JSON file in the layout of ESDM's esdm.conf:
//
//	{"esdm": {
//	   "backends": [{"name": "tmp", "kind": "posix", "endpoint": "/tmp/esdm"}],
//	   "metadata": {"kind": "posix", "endpoint": "/tmp/esdm-md"}}}
//
// # Key Features
//
//   - Automatic chunk shapes from a byte band and an access hint
//   - Capacity and throughput aware placement with optional replication
//   - Checksummed fragments with replica fallback on reads
//   - Posix, memory, S3 and MinIO backends with optional LZ4/Zstd compression
//   - Crash-safe catalog: write-ahead log plus snapshots, or S3 snapshots
//     with a DynamoDB commit pointer
package esdm
