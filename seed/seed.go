// Package seed produces sampler seeds for requests that do not carry one.
package seed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"
)

// MaxSeed is the largest seed handed out. It stays within a signed 32 bit range
// so the value survives every client that displays or replays it.
const MaxSeed int64 = 1<<31 - 1

// Generator hands out distinct seeds.
type Generator interface {
	// GenerateSeeds returns count distinct values in [0, MaxSeed].
	GenerateSeeds(count int) ([]int64, error)
}

// SnowflakeGenerator derives seeds from snowflake ids. Ids are unique and
// monotonic; each one is mixed and folded into the seed range, and the generator
// remembers recently issued seeds so consecutive calls never repeat a value.
type SnowflakeGenerator struct {
	ids    generator.Generator
	mu     sync.Mutex
	recent map[int64]struct{}
	ring   []int64
	next   int
}

const recentWindow = 4096

// NewSnowflakeGenerator creates a generator on top of a gkit snowflake.
func NewSnowflakeGenerator() *SnowflakeGenerator {
	return NewGenerator(generator.NewSnowflake(time.Now().Add(-1*time.Second), 1))
}

// NewGenerator wraps any gkit id generator.
func NewGenerator(ids generator.Generator) *SnowflakeGenerator {
	return &SnowflakeGenerator{
		ids:    ids,
		recent: make(map[int64]struct{}, recentWindow),
		ring:   make([]int64, 0, recentWindow),
	}
}

// GenerateSeeds implements Generator.
func (g *SnowflakeGenerator) GenerateSeeds(count int) ([]int64, error) {
	if count < 0 {
		return nil, fmt.Errorf("invalid seed count %d", count)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	retv := make([]int64, 0, count)
	attempts := 0
	for len(retv) < count {
		attempts++
		if attempts > count*16+16 {
			return nil, errors.New("could not generate distinct seeds")
		}
		id, err := g.ids.NextID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate seed: %w", err)
		}
		s := int64(mix(id) % uint64(MaxSeed+1))
		if _, dup := g.recent[s]; dup {
			continue
		}
		g.remember(s)
		retv = append(retv, s)
	}
	return retv, nil
}

func (g *SnowflakeGenerator) remember(s int64) {
	if len(g.ring) < recentWindow {
		g.ring = append(g.ring, s)
	} else {
		delete(g.recent, g.ring[g.next])
		g.ring[g.next] = s
		g.next = (g.next + 1) % recentWindow
	}
	g.recent[s] = struct{}{}
}

// mix is the splitmix64 finalizer; it spreads the low-entropy sequence bits of a
// snowflake id across the whole word.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
