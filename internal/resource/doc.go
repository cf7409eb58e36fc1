// Package resource governs how hard a single backend may be driven.
//
// A Controller combines three limits:
//
//   - I/O slots: a weighted semaphore bounding concurrent requests against
//     one backend (the "max-threads" knob of a backend entry).
//   - I/O bandwidth: a token bucket in bytes per second. Waits larger than
//     the bucket burst are split so large fragments never fail WaitN.
//   - Memory: fail-fast accounting used by the fragment cache.
//
//	rc := resource.NewController(resource.Config{
//	    MaxConcurrentIO:    4,
//	    IOLimitBytesPerSec: 100 << 20,
//	})
//
//	if err := rc.AcquireSlot(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseSlot()
//	if err := rc.AcquireIO(ctx, len(payload)); err != nil {
//	    return err
//	}
//
// All methods are safe for concurrent use and treat a nil *Controller as
// "no limits".
package resource
