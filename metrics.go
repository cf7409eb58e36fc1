package esdm

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// observability package ships a Prometheus implementation.
//
// bytes passed to RecordWrite and RecordRead count user data; bytes passed
// to RecordFragmentPut and RecordFragmentGet count backend I/O, so
// replication shows up as the difference.
type MetricsCollector interface {
	// RecordWrite is called after each region write.
	RecordWrite(bytes int64, chunks int, duration time.Duration, err error)

	// RecordRead is called after each region read.
	RecordRead(bytes int64, chunks int, duration time.Duration, err error)

	// RecordFragmentPut is called after each fragment put attempt.
	RecordFragmentPut(backend string, bytes int64, duration time.Duration, err error)

	// RecordFragmentGet is called after each fragment get attempt.
	RecordFragmentGet(backend string, bytes int64, duration time.Duration, err error)

	// RecordCommit is called after each catalog commit of fragments.
	RecordCommit(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordWrite(int64, int, time.Duration, error)          {}
func (NoopMetricsCollector) RecordRead(int64, int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordFragmentPut(string, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordFragmentGet(string, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	WriteCount      atomic.Int64
	WriteErrors     atomic.Int64
	WriteBytes      atomic.Int64
	WriteChunks     atomic.Int64
	WriteTotalNanos atomic.Int64
	ReadCount       atomic.Int64
	ReadErrors      atomic.Int64
	ReadBytes       atomic.Int64
	ReadChunks      atomic.Int64
	ReadTotalNanos  atomic.Int64
	PutCount        atomic.Int64
	PutErrors       atomic.Int64
	PutBytes        atomic.Int64
	GetCount        atomic.Int64
	GetErrors       atomic.Int64
	GetBytes        atomic.Int64
	CommitCount     atomic.Int64
	CommitErrors    atomic.Int64
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(bytes int64, chunks int, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
		return
	}
	b.WriteBytes.Add(bytes)
	b.WriteChunks.Add(int64(chunks))
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(bytes int64, chunks int, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
		return
	}
	b.ReadBytes.Add(bytes)
	b.ReadChunks.Add(int64(chunks))
}

// RecordFragmentPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFragmentPut(_ string, bytes int64, _ time.Duration, err error) {
	b.PutCount.Add(1)
	if err != nil {
		b.PutErrors.Add(1)
		return
	}
	b.PutBytes.Add(bytes)
}

// RecordFragmentGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFragmentGet(_ string, bytes int64, _ time.Duration, err error) {
	b.GetCount.Add(1)
	if err != nil {
		b.GetErrors.Add(1)
		return
	}
	b.GetBytes.Add(bytes)
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		WriteCount:     b.WriteCount.Load(),
		WriteErrors:    b.WriteErrors.Load(),
		WriteBytes:     b.WriteBytes.Load(),
		WriteChunks:    b.WriteChunks.Load(),
		WriteAvgNanos:  avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
		ReadCount:      b.ReadCount.Load(),
		ReadErrors:     b.ReadErrors.Load(),
		ReadBytes:      b.ReadBytes.Load(),
		ReadChunks:     b.ReadChunks.Load(),
		ReadAvgNanos:   avg(b.ReadTotalNanos.Load(), b.ReadCount.Load()),
		FragmentPuts:   b.PutCount.Load(),
		PutErrors:      b.PutErrors.Load(),
		BytesWrittenIO: b.PutBytes.Load(),
		FragmentGets:   b.GetCount.Load(),
		GetErrors:      b.GetErrors.Load(),
		BytesReadIO:    b.GetBytes.Load(),
		Commits:        b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	WriteCount     int64
	WriteErrors    int64
	WriteBytes     int64
	WriteChunks    int64
	WriteAvgNanos  int64
	ReadCount      int64
	ReadErrors     int64
	ReadBytes      int64
	ReadChunks     int64
	ReadAvgNanos   int64
	FragmentPuts   int64
	PutErrors      int64
	BytesWrittenIO int64
	FragmentGets   int64
	GetErrors      int64
	BytesReadIO    int64
	Commits        int64
	CommitErrors   int64
}

// multiCollector fans measurements out to several collectors.
type multiCollector []MetricsCollector

func (m multiCollector) RecordWrite(bytes int64, chunks int, d time.Duration, err error) {
	for _, c := range m {
		c.RecordWrite(bytes, chunks, d, err)
	}
}

func (m multiCollector) RecordRead(bytes int64, chunks int, d time.Duration, err error) {
	for _, c := range m {
		c.RecordRead(bytes, chunks, d, err)
	}
}

func (m multiCollector) RecordFragmentPut(backend string, bytes int64, d time.Duration, err error) {
	for _, c := range m {
		c.RecordFragmentPut(backend, bytes, d, err)
	}
}

func (m multiCollector) RecordFragmentGet(backend string, bytes int64, d time.Duration, err error) {
	for _, c := range m {
		c.RecordFragmentGet(backend, bytes, d, err)
	}
}

func (m multiCollector) RecordCommit(d time.Duration, err error) {
	for _, c := range m {
		c.RecordCommit(d, err)
	}
}
