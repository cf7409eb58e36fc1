// Package wal implements a framed, checksummed, append-only log with group
// commit.
//
// The log assigns log sequence numbers (LSN) itself, so the order of LSNs is
// the order of records in the file. On open, a torn or corrupt tail left by
// a crash is truncated back to the last intact record.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/hupe1980/esdm/internal/fs"
)

// Durability controls the durability guarantees of the WAL.
type Durability int

const (
	// DurabilityAsync relies on OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync makes Append wait for fsync. Concurrent appends share
	// one fsync.
	DurabilitySync
)

const (
	walMagic      = "ESDMWAL\x00" // 8 bytes
	walVersion    = 1             // 4 bytes
	walHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
)

// Options configures a WAL.
type Options struct {
	Durability Durability
	// NextLSN is the smallest LSN the log may assign. The log never assigns
	// an LSN at or below a record already in the file.
	NextLSN uint64
	Logger  *slog.Logger
}

// DefaultOptions returns synchronous durability.
func DefaultOptions() Options {
	return Options{Durability: DurabilitySync, NextLSN: 1}
}

// RecoveryInfo describes what Open found in an existing log.
type RecoveryInfo struct {
	Records        int
	LastLSN        uint64
	TruncatedBytes int64
}

// WAL manages the write-ahead log file.
type WAL struct {
	mu      sync.Mutex
	fs      fs.FileSystem
	file    fs.File
	cw      *countingWriter
	path    string
	opts    Options
	nextLSN uint64
	info    RecoveryInfo

	// Group commit state
	syncedOffset int64      // Offset known to be fsync'd
	syncCond     *sync.Cond // Signals the syncer that there is data to sync
	doneCond     *sync.Cond // Signals waiters that a sync completed
	closed       bool
	lastErr      error // Terminal error encountered by background syncer
	wg           sync.WaitGroup
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Flush() error {
	return cw.w.Flush()
}

// Open opens or creates a WAL at the given path, truncating a damaged tail.
func Open(fsys fs.FileSystem, path string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	info, validEnd, err := scan(fsys, path)
	if err != nil {
		return nil, err
	}
	if info.TruncatedBytes > 0 {
		opts.Logger.Warn("wal: truncating damaged tail",
			"path", path, "offset", validEnd, "bytes", info.TruncatedBytes)
		if err := fsys.Truncate(path, validEnd); err != nil {
			return nil, fmt.Errorf("wal: truncate tail: %w", err)
		}
	}

	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	offset := validEnd
	if offset == 0 {
		header := make([]byte, walHeaderSize)
		copy(header[0:8], walMagic)
		binary.LittleEndian.PutUint32(header[8:12], uint32(walVersion))
		if _, err := f.Write(header); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, err
		}
		offset = walHeaderSize
	}

	w := &WAL{
		fs:           fsys,
		file:         f,
		cw:           &countingWriter{w: bufio.NewWriter(f), n: offset},
		path:         path,
		opts:         opts,
		nextLSN:      max(opts.NextLSN, info.LastLSN+1, 1),
		info:         info,
		syncedOffset: offset,
	}
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	if opts.Durability == DurabilitySync {
		w.wg.Add(1)
		go w.runSyncer()
	}

	return w, nil
}

// scan validates the header and walks the records of an existing log. It
// returns the offset just past the last intact record, or 0 for a missing or
// empty file.
func scan(fsys fs.FileSystem, path string) (RecoveryInfo, int64, error) {
	var info RecoveryInfo

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, 0, nil
		}
		return info, 0, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return info, 0, err
	}
	size := stat.Size()
	if size == 0 {
		return info, 0, nil
	}
	if size < walHeaderSize {
		return info, 0, fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, walHeaderSize)
	}

	header := make([]byte, walHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return info, 0, err
	}
	if string(header[0:8]) != walMagic {
		return info, 0, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != walVersion {
		return info, 0, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, walVersion)
	}

	r := bufio.NewReader(f)
	offset := int64(walHeaderSize)
	for {
		rec, n, err := Decode(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				info.TruncatedBytes = size - offset
			}
			return info, offset, nil
		}
		offset += n
		info.Records++
		info.LastLSN = rec.LSN
	}
}

// Recovery returns what Open found in the existing log.
func (w *WAL) Recovery() RecoveryInfo {
	return w.info
}

// Size returns the current size of the WAL in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cw.n
}

// NextLSN returns the LSN the next Append will assign.
func (w *WAL) NextLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

func (w *WAL) runSyncer() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for w.cw.n <= w.syncedOffset && !w.closed {
			w.syncCond.Wait()
		}
		if w.closed && w.cw.n <= w.syncedOffset {
			return
		}

		target := w.cw.n

		w.mu.Unlock()
		err := w.file.Sync()
		w.mu.Lock()

		if err != nil {
			w.lastErr = fmt.Errorf("wal sync failed: %w", err)
			w.doneCond.Broadcast()
			return
		}

		if target > w.syncedOffset {
			w.syncedOffset = target
		}
		w.doneCond.Broadcast()
	}
}

// Append assigns the next LSN to rec, writes it, and returns the LSN. In
// DurabilitySync mode it returns once the record is on stable storage.
func (w *WAL) Append(rec *Record) (uint64, error) {
	lsn, offset, err := w.AppendAsync(rec)
	if err != nil {
		return 0, err
	}
	if w.opts.Durability == DurabilitySync {
		if err := w.WaitFor(offset); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

// AppendAsync writes rec to the file without waiting for sync. It returns
// the assigned LSN and the file offset just past the record.
func (w *WAL) AppendAsync(rec *Record) (uint64, int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, 0, os.ErrClosed
	}
	if w.lastErr != nil {
		return 0, 0, w.lastErr
	}

	rec.LSN = w.nextLSN
	start := w.cw.n
	if err := rec.Encode(w.cw); err != nil {
		return 0, 0, w.poison(err, start)
	}
	if err := w.cw.Flush(); err != nil {
		return 0, 0, w.poison(err, start)
	}
	w.nextLSN++

	if w.opts.Durability == DurabilitySync {
		w.syncCond.Signal()
	}
	return rec.LSN, w.cw.n, nil
}

// poison records a write failure. A partially written frame cannot be
// taken back, so the log refuses further appends; the next Open truncates
// the damaged tail.
func (w *WAL) poison(err error, start int64) error {
	w.lastErr = fmt.Errorf("wal append at offset %d: %w", start, err)
	w.doneCond.Broadcast()
	return w.lastErr
}

// WaitFor waits until the WAL is synced up to the given offset.
func (w *WAL) WaitFor(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for w.syncedOffset < offset && !w.closed && w.lastErr == nil {
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.closed && w.syncedOffset < offset {
		return os.ErrClosed
	}
	return nil
}

// Sync ensures all buffered writes are committed to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if err := w.cw.Flush(); err != nil {
		return err
	}

	if w.opts.Durability == DurabilityAsync {
		return w.file.Sync()
	}

	target := w.cw.n
	w.syncCond.Signal()
	for w.syncedOffset < target && !w.closed && w.lastErr == nil {
		w.doneCond.Wait()
	}
	return w.lastErr
}

// Reset discards every record and continues numbering at nextLSN. It is
// called once the records are captured by a durable snapshot.
func (w *WAL) Reset(nextLSN uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if err := w.cw.Flush(); err != nil {
		return err
	}
	if err := w.fs.Truncate(w.path, walHeaderSize); err != nil {
		return fmt.Errorf("wal reset: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal reset: %w", err)
	}

	w.cw.n = walHeaderSize
	w.syncedOffset = walHeaderSize
	w.nextLSN = max(nextLSN, w.nextLSN)
	w.info = RecoveryInfo{}
	return nil
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}

	if err := w.cw.Flush(); err != nil {
		w.closed = true
		w.syncCond.Signal()
		w.mu.Unlock()
		w.wg.Wait()
		_ = w.file.Close()
		return err
	}

	w.closed = true
	w.syncCond.Signal()
	w.mu.Unlock()

	w.wg.Wait()

	return w.file.Close()
}

// Reader returns a reader for replaying the WAL from the first record.
func (w *WAL) Reader() (*Reader, error) {
	f, err := w.fs.OpenFile(w.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(walHeaderSize, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Reader{f: f, r: bufio.NewReader(f), offset: walHeaderSize}, nil
}

// Reader iterates over WAL records.
type Reader struct {
	f      fs.File
	r      *bufio.Reader
	offset int64
}

// Next reads the next record. Returns io.EOF when done.
func (r *Reader) Next() (*Record, error) {
	rec, n, err := Decode(r.r)
	if err == nil {
		r.offset += n
	}
	return rec, err
}

// Offset returns the current valid offset in the WAL.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.f.Close()
}
