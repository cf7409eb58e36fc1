// Package scheduler ranks backends for chunk placement and replica reads.
//
// The scheduler is stateless: every call recomputes candidates from the
// profiles it is given, so a backend that fills up or goes away is honored
// on the next decision without coordination.
package scheduler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/esdm/backend"
	"github.com/hupe1980/esdm/model"
)

// ErrNoCapacity is returned when no available backend can hold a chunk.
var ErrNoCapacity = errors.New("no backend has capacity")

// Policy selects how equally eligible backends are ordered.
type Policy int

const (
	// PolicyScore orders strictly by score; ties go to the lower name.
	PolicyScore Policy = iota
	// PolicyWeighted orders by weighted rendezvous hashing of the chunk box,
	// spreading the chunks of one write across backends in proportion to
	// their score.
	PolicyWeighted
)

func (p Policy) String() string {
	switch p {
	case PolicyScore:
		return "score"
	case PolicyWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "score":
		return PolicyScore, nil
	case "weighted":
		return PolicyWeighted, nil
	}
	return PolicyScore, fmt.Errorf("unknown scheduling policy %q", s)
}

// Scheduler scores backends by free capacity and estimated transfer speed.
type Scheduler struct {
	FreeWeight       float64
	ThroughputWeight float64
	Policy           Policy
}

// New returns a scheduler weighting capacity and throughput equally.
func New() Scheduler {
	return Scheduler{FreeWeight: 0.5, ThroughputWeight: 0.5, Policy: PolicyScore}
}

// Score returns FreeWeight*freeFraction + ThroughputWeight*class/MaxClass.
func (s Scheduler) Score(p backend.Profile) float64 {
	thr := float64(p.Throughput) / float64(backend.MaxThroughputClass)
	return s.FreeWeight*p.FreeFraction() + s.ThroughputWeight*thr
}

// modeled reports whether any profile carries a performance model.
func modeled(profiles []backend.Profile) bool {
	for _, p := range profiles {
		if !p.Perf.IsZero() {
			return true
		}
	}
	return false
}

// speeds returns fastest/estimate for each profile, where estimate is
// latency + size/throughput of its model. Small transfers favor low latency
// and large transfers favor bandwidth.
func speeds(profiles []backend.Profile, sizeBytes int64) []float64 {
	est := make([]time.Duration, len(profiles))
	fastest := time.Duration(math.MaxInt64)
	for i, p := range profiles {
		est[i] = max(p.Model().Estimate(sizeBytes), time.Nanosecond)
		fastest = min(fastest, est[i])
	}
	out := make([]float64, len(profiles))
	for i := range profiles {
		out[i] = float64(fastest) / float64(est[i])
	}
	return out
}

type ranked struct {
	name  string
	score float64
	key   float64
}

// Assign returns the names of backends able to hold sizeBytes, best first.
// Unavailable backends and backends with less than sizeBytes free are
// never returned.
func (s Scheduler) Assign(box model.Box, sizeBytes int64, profiles []backend.Profile) ([]string, error) {
	var (
		fit       []backend.Profile
		available int
	)
	for _, p := range profiles {
		if !p.Available {
			continue
		}
		available++
		if p.Fits(sizeBytes) {
			fit = append(fit, p)
		}
	}
	if len(fit) == 0 {
		if len(profiles) > 0 && available == 0 {
			return nil, fmt.Errorf("%w: all %d backends down", backend.ErrBackendUnavailable, len(profiles))
		}
		return nil, fmt.Errorf("%w: %d bytes for chunk %s", ErrNoCapacity, sizeBytes, box)
	}

	// Once any backend has a performance model, the throughput class gives
	// way to the estimated transfer time of this chunk.
	var sp []float64
	if modeled(fit) {
		sp = speeds(fit, sizeBytes)
	}
	cands := make([]ranked, len(fit))
	for i, p := range fit {
		score := s.Score(p)
		if sp != nil {
			score = s.FreeWeight*p.FreeFraction() + s.ThroughputWeight*sp[i]
		}
		cands[i] = ranked{name: p.Name, score: score}
	}

	if s.Policy == PolicyWeighted {
		seed := boxHash(box)
		for i := range cands {
			cands[i].key = rendezvous(seed, cands[i].name, cands[i].score)
		}
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].key != cands[j].key {
				return cands[i].key > cands[j].key
			}
			return cands[i].name < cands[j].name
		})
	} else {
		sortByScore(cands)
	}

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.name
	}
	return out, nil
}

// Order sorts the replica locations of a fragment of sizeBytes for reading:
// available backends fastest first, then unavailable or unknown ones in
// their given order.
func (s Scheduler) Order(names []string, sizeBytes int64, profiles []backend.Profile) []string {
	byName := make(map[string]backend.Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}

	var holders []backend.Profile
	var down []string
	for _, n := range names {
		p, ok := byName[n]
		if !ok || !p.Available {
			down = append(down, n)
			continue
		}
		holders = append(holders, p)
	}
	var sp []float64
	if modeled(holders) {
		sp = speeds(holders, sizeBytes)
	}
	up := make([]ranked, len(holders))
	for i, p := range holders {
		speed := float64(p.Throughput) / float64(backend.MaxThroughputClass)
		if sp != nil {
			speed = sp[i]
		}
		up[i] = ranked{name: p.Name, score: speed}
	}
	sortByScore(up)

	out := make([]string, 0, len(names))
	for _, r := range up {
		out = append(out, r.name)
	}
	return append(out, down...)
}

func sortByScore(r []ranked) {
	sort.SliceStable(r, func(i, j int) bool {
		if r[i].score != r[j].score {
			return r[i].score > r[j].score
		}
		return r[i].name < r[j].name
	})
}

func boxHash(b model.Box) uint64 {
	buf := make([]byte, 0, 16*b.Rank())
	for d := range b.Shape {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Offset[d]))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Shape[d]))
	}
	return xxhash.Sum64(buf)
}

// rendezvous returns the weighted rendezvous key -w/ln(u) for name.
func rendezvous(seed uint64, name string, weight float64) float64 {
	d := xxhash.New()
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], seed)
	_, _ = d.Write(b[:])
	_, _ = d.WriteString(name)

	// u in (0, 1) from the top 53 bits.
	u := (float64(d.Sum64()>>11) + 0.5) / (1 << 53)
	weight = math.Max(weight, 1e-9)
	return -weight / math.Log(u)
}
