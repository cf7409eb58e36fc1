package esdm_test

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hupe1980/esdm"
	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/model"
	"github.com/hupe1980/esdm/testutil"
)

func Example() {
	ctx := context.Background()

	cfg := esdm.DefaultConfig()
	cfg.Backends = []backend.Config{
		{Name: "ram", Kind: "memory", ThroughputClass: backend.ThroughputMemory},
	}

	inst, err := esdm.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer inst.Close()

	ds, err := inst.CreateDataset(ctx, "esdm://climate/run1")
	if err != nil {
		log.Fatal(err)
	}
	if _, err := ds.CreateDimension(ctx, "time", esdm.Unlimited); err != nil {
		log.Fatal(err)
	}
	if _, err := ds.CreateDimension(ctx, "x", 3); err != nil {
		log.Fatal(err)
	}
	temp, err := ds.CreateVariable(ctx, "temp", model.Float32, []string{"time", "x"},
		esdm.WithChunkShape(2, 3))
	if err != nil {
		log.Fatal(err)
	}

	data := testutil.Float32Bytes([]float32{1, 2, 3, 4, 5, 6})
	if err := temp.Write(ctx, []int64{0, 0}, []int64{2, 3}, data); err != nil {
		log.Fatal(err)
	}
	if err := ds.Close(ctx); err != nil {
		log.Fatal(err)
	}

	out, err := temp.Read(ctx, []int64{1, 1}, []int64{1, 2})
	if err != nil {
		log.Fatal(err)
	}
	shape, _ := temp.Shape()
	fmt.Println(ds.ID(), shape, testutil.BytesFloat32(out))

	// Rows never written are reported, not zero-filled.
	_, err = temp.Read(ctx, []int64{0, 0}, []int64{4, 3})
	fmt.Println(errors.Is(err, esdm.ErrIncompleteData))

	// Output:
	// climate/run1 [2 3] [5 6]
	// true
}

func ExampleWithFillValue() {
	ctx := context.Background()

	cfg := esdm.DefaultConfig()
	cfg.Backends = []backend.Config{{Name: "ram", Kind: "memory"}}
	inst, err := esdm.Open(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer inst.Close()

	ds, _ := inst.CreateDataset(ctx, "sparse")
	_, _ = ds.CreateDimension(ctx, "i", 4)
	v, err := ds.CreateVariable(ctx, "counts", model.Int32, []string{"i"},
		esdm.WithChunkShape(2), esdm.WithFillValue(model.Int(-1)))
	if err != nil {
		log.Fatal(err)
	}
	if err := v.Write(ctx, []int64{2}, []int64{2}, testutil.Int32Bytes([]int32{7, 8})); err != nil {
		log.Fatal(err)
	}

	r, err := v.ReadRegion(ctx, []int64{0}, []int64{4})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(testutil.BytesInt32(r.Data), r.Filled)

	// Output:
	// [-1 -1 7 8] [[0:2]]
}
