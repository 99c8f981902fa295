package bayes

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AttackType indexes the six loaded networks.
type AttackType int

const (
	AttackDataAccess AttackType = iota
	AttackBypassAuthentication
	AttackDataModification
	AttackFingerprinting
	AttackSchema
	AttackDenialOfService

	NumAttackTypes = 6
)

func (a AttackType) String() string {
	switch a {
	case AttackDataAccess:
		return "data access"
	case AttackBypassAuthentication:
		return "authentication bypass"
	case AttackDataModification:
		return "data modification"
	case AttackFingerprinting:
		return "fingerprinting"
	case AttackSchema:
		return "schema discovery"
	case AttackDenialOfService:
		return "denial of service"
	default:
		return "unknown"
	}
}

// NetFileName returns the conventional network file name for an attack type.
func (a AttackType) NetFileName() string {
	switch a {
	case AttackDataAccess:
		return "dataAccess.net"
	case AttackBypassAuthentication:
		return "bypassAuthentication.net"
	case AttackDataModification:
		return "dataModification.net"
	case AttackFingerprinting:
		return "fingerprinting.net"
	case AttackSchema:
		return "schema.net"
	case AttackDenialOfService:
		return "denialOfService.net"
	default:
		return ""
	}
}

// expectedNodeCounts guards against shipping a network file that disagrees
// with the classifier's evidence tables.
var expectedNodeCounts = [NumAttackTypes]int{19, 15, 14, 24, 21, 7}

// cacheSize bounds the per-network evidence cache.
const cacheSize = 5

// maxPoolCopies caps the number of interchangeable network copies.
const maxPoolCopies = 256

// Evidence is the explicit record of observed node states handed to the
// evaluator. Nodes and States are parallel; Nodes lists evidence nodes in
// the fixed order the network's fingerprint assumes.
type Evidence struct {
	Nodes  []int
	States []int
}

// Fingerprint packs the evidence states into a 64-bit cache key, three bits
// per node in evidence order. State indices must stay below 8 and at most 21
// nodes fit, both true for every shipped network.
func (e Evidence) Fingerprint() uint64 {
	var fp uint64
	for i := range e.Nodes {
		fp = (fp << 3) | uint64(e.States[i]&0x7)
	}
	return fp
}

func (e Evidence) observations() []Observation {
	obs := make([]Observation, len(e.Nodes))
	for i := range e.Nodes {
		obs[i] = Observation{Node: e.Nodes[i], State: e.States[i]}
	}
	return obs
}

// instance is one independently usable copy of a network and its join tree.
type instance struct {
	mu sync.Mutex
	jt *JoinTree
}

// netPool hands out instances. Acquire first sweeps the pool with TryLock;
// when every copy is held it blocks on one chosen round-robin to spread
// contention.
type netPool struct {
	instances []*instance
	rr        atomic.Uint32
}

func (p *netPool) acquire() *instance {
	for _, in := range p.instances {
		if in.mu.TryLock() {
			return in
		}
	}
	in := p.instances[int(p.rr.Add(1))%len(p.instances)]
	in.mu.Lock()
	return in
}

// CacheStats reports hit counters for observability.
type CacheStats struct {
	Hits   uint64
	Misses uint64
}

// Evaluator owns the six loaded networks, their join-tree pools, and the
// per-network evidence caches. It is safe for concurrent use.
type Evaluator struct {
	pools  [NumAttackTypes]*netPool
	caches [NumAttackTypes]*evidenceCache

	// cacheHook, when set, observes every cache lookup. Set once at
	// startup, before any traffic.
	cacheHook func(attack AttackType, hit bool)
}

// SetCacheHook installs an observer for cache lookups, used to feed the
// metrics collector.
func (e *Evaluator) SetCacheHook(hook func(attack AttackType, hit bool)) {
	e.cacheHook = hook
}

// evidenceCache pairs the LRU with a lock: lookup and insert are quick, and
// the expensive miss computation happens outside the lock on an acquired
// pool instance.
type evidenceCache struct {
	mu     sync.Mutex
	lru    *lru.Cache[uint64, float64]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Load reads the six network files from dir, derives a join tree for each,
// and builds the instance pools. A missing file, a malformed network, or a
// node-count mismatch fails startup.
func Load(dir string) (*Evaluator, error) {
	copies := runtime.GOMAXPROCS(0)
	if copies > maxPoolCopies {
		copies = maxPoolCopies
	}
	if copies < 1 {
		copies = 1
	}

	e := &Evaluator{}
	for attack := AttackType(0); attack < NumAttackTypes; attack++ {
		path := filepath.Join(dir, attack.NetFileName())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading network file: %w", err)
		}

		pool := &netPool{}
		for i := 0; i < copies; i++ {
			// Each copy gets its own parse so CPTs and scratch areas are
			// fully independent.
			net, err := ParseHugin(string(data))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if len(net.Nodes) != expectedNodeCounts[attack] {
				return nil, fmt.Errorf("%s has %d nodes, want %d",
					path, len(net.Nodes), expectedNodeCounts[attack])
			}
			jt, err := BuildJoinTree(net)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			pool.instances = append(pool.instances, &instance{jt: jt})
		}
		e.pools[attack] = pool

		c, err := lru.New[uint64, float64](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating evidence cache: %w", err)
		}
		e.caches[attack] = &evidenceCache{lru: c}
		log.Printf("[bayes] loaded %s (%d nodes, %d copies)",
			attack.NetFileName(), expectedNodeCounts[attack], copies)
	}
	return e, nil
}

// Posterior returns P(targetNode = targetState | evidence) for the given
// attack network, consulting the evidence cache first.
func (e *Evaluator) Posterior(attack AttackType, targetNode, targetState int, ev Evidence) (float64, error) {
	if attack < 0 || attack >= NumAttackTypes {
		return 0, fmt.Errorf("invalid attack type %d", attack)
	}
	cache := e.caches[attack]
	key := ev.Fingerprint()

	cache.mu.Lock()
	if p, ok := cache.lru.Get(key); ok {
		cache.mu.Unlock()
		cache.hits.Add(1)
		if e.cacheHook != nil {
			e.cacheHook(attack, true)
		}
		return p, nil
	}
	cache.mu.Unlock()
	cache.misses.Add(1)
	if e.cacheHook != nil {
		e.cacheHook(attack, false)
	}

	in := e.pools[attack].acquire()
	p, err := in.jt.Posterior(targetNode, targetState, ev.observations())
	in.mu.Unlock()
	if err != nil {
		return 0, err
	}

	cache.mu.Lock()
	cache.lru.Add(key, p)
	cache.mu.Unlock()
	return p, nil
}

// Stats returns cumulative cache counters per attack type.
func (e *Evaluator) Stats() [NumAttackTypes]CacheStats {
	var out [NumAttackTypes]CacheStats
	for i := range e.caches {
		out[i] = CacheStats{
			Hits:   e.caches[i].hits.Load(),
			Misses: e.caches[i].misses.Load(),
		}
	}
	return out
}
