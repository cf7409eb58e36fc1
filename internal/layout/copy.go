package layout

import "github.com/hupe1980/esdm/model"

// forEachRun calls fn with the byte offsets of region inside two row-major
// buffers laid out over boxA and boxB, one call per contiguous run. region
// must lie within both boxes.
func forEachRun(boxA, boxB, region model.Box, elemSize int, fn func(offA, offB, n int)) {
	rank := region.Rank()
	if rank == 0 {
		fn(0, 0, elemSize)
		return
	}
	if region.Volume() == 0 {
		return
	}

	// Fuse trailing dimensions that are whole in both buffers.
	k := rank - 1
	for k > 0 && region.Shape[k] == boxA.Shape[k] && region.Shape[k] == boxB.Shape[k] {
		k--
	}
	run := int64(elemSize)
	for d := k; d < rank; d++ {
		run *= region.Shape[d]
	}

	strideA := strides(boxA, elemSize)
	strideB := strides(boxB, elemSize)

	idx := make([]int64, k)
	for {
		var offA, offB int64
		for d := 0; d < rank; d++ {
			p := region.Offset[d]
			if d < k {
				p += idx[d]
			}
			offA += (p - boxA.Offset[d]) * strideA[d]
			offB += (p - boxB.Offset[d]) * strideB[d]
		}
		fn(int(offA), int(offB), int(run))

		d := k - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < region.Shape[d] {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			return
		}
	}
}

func strides(box model.Box, elemSize int) []int64 {
	s := make([]int64, box.Rank())
	acc := int64(elemSize)
	for d := box.Rank() - 1; d >= 0; d-- {
		s[d] = acc
		acc *= box.Shape[d]
	}
	return s
}

// Copy copies region from src (row-major over srcBox) into dst (row-major
// over dstBox). region must lie within both boxes.
func Copy(dst []byte, dstBox model.Box, src []byte, srcBox model.Box, region model.Box, elemSize int) {
	forEachRun(dstBox, srcBox, region, elemSize, func(offDst, offSrc, n int) {
		copy(dst[offDst:offDst+n], src[offSrc:offSrc+n])
	})
}

// Fill writes the element value fill over region of dst.
func Fill(dst []byte, dstBox model.Box, region model.Box, fill []byte) {
	elemSize := len(fill)
	if elemSize == 0 {
		return
	}
	forEachRun(dstBox, dstBox, region, elemSize, func(off, _, n int) {
		for i := off; i < off+n; i += elemSize {
			copy(dst[i:i+elemSize], fill)
		}
	})
}

// Extract returns region of src (row-major over srcBox) as a new buffer.
func Extract(src []byte, srcBox model.Box, region model.Box, elemSize int) []byte {
	out := make([]byte, region.Volume()*int64(elemSize))
	Copy(out, region, src, srcBox, region, elemSize)
	return out
}
