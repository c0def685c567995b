// Package keypool holds every Edge the harness has loaded, partitioned by
// shard, so the run phase can draw realistic read/update/delete targets.
package keypool

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tracebench/tracebench/internal/model"
)

// KeyPool maps ShardID to the edges observed for that shard. It is
// single-writer-per-shard during load/reload and strictly read-only during
// the run phase (spec.md §4.2, §5) — callers must not mutate a KeyPool
// concurrently with RandomEdge once the run phase has started.
type KeyPool struct {
	byShard map[model.ShardID][]model.Edge
}

// New returns an empty KeyPool.
func New() *KeyPool {
	return &KeyPool{byShard: make(map[model.ShardID][]model.Edge)}
}

// Add appends an edge under the given shard. Safe to call only from the
// single writer that owns that shard range during load/reload.
func (p *KeyPool) Add(shard model.ShardID, e model.Edge) {
	p.byShard[shard] = append(p.byShard[shard], e)
}

// Merge folds src's buckets into p, concatenating per-shard lists. Used to
// combine each loader's disjoint-shard-range slice into the shared
// immutable pool before the run phase begins.
func (p *KeyPool) Merge(src *KeyPool) {
	for shard, edges := range src.byShard {
		p.byShard[shard] = append(p.byShard[shard], edges...)
	}
}

// NumLoadedEdges returns the total edge count across every shard.
func (p *KeyPool) NumLoadedEdges() int64 {
	var total int64
	for _, edges := range p.byShard {
		total += int64(len(edges))
	}
	return total
}

// RandomEdge draws a ShardID via shardSample until it hits a non-empty
// bucket, then returns a uniformly random edge from that bucket. shardSample
// is expected to be a closure over Config.SampleInt("primary_shards", ...)
// bound to a per-worker *rand.Rand; it must eventually return a non-empty
// bucket or this call does not terminate (precondition: at least one
// bucket is non-empty).
func (p *KeyPool) RandomEdge(rng *rand.Rand, shardSample func() (model.ShardID, error)) (model.Edge, error) {
	for {
		shard, err := shardSample()
		if err != nil {
			return model.Edge{}, err
		}
		bucket := p.byShard[shard]
		if len(bucket) == 0 {
			continue
		}
		return bucket[rng.Intn(len(bucket))], nil
	}
}

// ShardOf extracts the ShardID embedded as the prefix of a generated key,
// per I3: "every generated id is of the form <shard>:<threadtag>:<counter>
// :<nanos>... ShardId extraction is by splitting on the first ':'."
func ShardOf(key string) (model.ShardID, error) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return 0, errors.Errorf("keypool: key %q has no shard prefix", key)
	}
	n, err := strconv.Atoi(key[:idx])
	if err != nil {
		return 0, errors.Wrapf(err, "keypool: key %q has a non-numeric shard prefix", key)
	}
	return model.ShardID(n), nil
}
