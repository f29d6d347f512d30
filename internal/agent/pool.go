package agent

import (
	"math/rand"
	"sync"
)

// Pool hands out User-Agent strings for outgoing requests. Some origins
// reject Go's default agent outright, so every request picks one from a
// small fixed set.
type Pool struct {
	mu     sync.Mutex
	rng    *rand.Rand
	agents []string
}

var defaultAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

func NewPool(seed int64) *Pool {
	return &Pool{
		rng:    rand.New(rand.NewSource(seed)),
		agents: defaultAgents,
	}
}

// Pick returns a random agent from the pool. Safe for concurrent use.
func (p *Pool) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.agents[p.rng.Intn(len(p.agents))]
}
