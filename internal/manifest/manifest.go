package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/esdm/blobstore"
)

const (
	SnapshotPrefix  = "CATALOG"
	CurrentFileName = "CURRENT"
	// CurrentVersion is the version of the snapshot format.
	CurrentVersion = binaryVersion
)

// Manifest is a catalog snapshot.
type Manifest struct {
	Version   int
	ID        uint64
	CreatedAt time.Time
	// MaxLSN is the last log record folded into State.
	MaxLSN uint64
	// Codec names the codec that encoded State.
	Codec string
	State []byte
}

// Store manages snapshot blobs and the CURRENT pointer.
type Store struct {
	store  blobstore.BlobStore
	writer string
	mu     sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore) *Store {
	return &Store{
		store:  store,
		writer: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
}

// Load loads the snapshot CURRENT points to. It returns ErrNotFound when
// nothing has been saved yet.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, name)
}

func (s *Store) current(ctx context.Context) (string, error) {
	content, err := blobstore.ReadAll(ctx, s.store, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	name := strings.TrimSpace(string(content))
	if _, ok := parseName(name); !ok {
		return "", fmt.Errorf("%w: CURRENT references %q", ErrCorrupt, name)
	}
	return name, nil
}

func (s *Store) read(ctx context.Context, name string) (*Manifest, error) {
	content, err := blobstore.ReadAll(ctx, s.store, name)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", name, err)
	}
	m, err := ReadBinary(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", name, err)
	}
	return m, nil
}

// Save writes m as the next snapshot and moves CURRENT to it. m.ID is
// incremented; on error it is left unchanged.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *m
	next.Version = CurrentVersion
	next.ID = m.ID + 1
	next.CreatedAt = time.Now()

	var buf bytes.Buffer
	if err := next.WriteBinary(&buf); err != nil {
		return err
	}

	name := s.fileName(next.ID)
	if err := s.store.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("write manifest %s: %w", name, err)
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(name)); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), name)
		return fmt.Errorf("update %s: %w", CurrentFileName, err)
	}

	*m = next
	return nil
}

// Prune deletes all snapshots except the current one and the keep newest
// before it. It returns the number of deleted blobs.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.current(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	currentID, _ := parseName(current)

	names, err := s.store.List(ctx, SnapshotPrefix+"-")
	if err != nil {
		return 0, err
	}

	type snap struct {
		name string
		id   uint64
	}
	var older []snap
	for _, name := range names {
		id, ok := parseName(name)
		if !ok || name == current {
			continue
		}
		if id > currentID {
			// Possibly still being committed by another writer.
			continue
		}
		older = append(older, snap{name: name, id: id})
	}
	slices.SortFunc(older, func(a, b snap) int {
		if a.id != b.id {
			if a.id > b.id {
				return -1
			}
			return 1
		}
		return strings.Compare(a.name, b.name)
	})

	deleted := 0
	for i, sn := range older {
		if i < keep {
			continue
		}
		if err := s.store.Delete(ctx, sn.name); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) fileName(id uint64) string {
	return fmt.Sprintf("%s-%06d-%s.bin", SnapshotPrefix, id, s.writer)
}

// parseName extracts the snapshot ID from CATALOG-NNNNNN-<writer>.bin.
func parseName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, SnapshotPrefix+"-")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".bin")
	if !ok {
		return 0, false
	}
	idPart, _, _ := strings.Cut(rest, "-")
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

