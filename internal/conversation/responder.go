package conversation

import (
	"math/rand/v2"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Classify returns the category whose keywords appear in text, or Other
// when none match.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	for _, c := range classifyOrder {
		for _, kw := range keywords[c] {
			if strings.Contains(lower, kw) {
				return c
			}
		}
	}
	return Other
}

// Select picks an index from pool that is not in used. Once every entry
// has been used, any entry may be picked again. It returns -1 for an
// empty pool.
func Select(pool []string, used []int, rng *rand.Rand) (int, string) {
	if len(pool) == 0 {
		return -1, ""
	}

	taken := make(map[int]bool, len(used))
	for _, i := range used {
		taken[i] = true
	}
	free := make([]int, 0, len(pool))
	for i := range pool {
		if !taken[i] {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		i := rng.IntN(len(pool))
		return i, pool[i]
	}

	i := free[rng.IntN(len(free))]
	return i, pool[i]
}

// selectWeighted picks from pool with probability proportional to weight.
func selectWeighted(pool []weighted, rng *rand.Rand) (int, string) {
	total := 0
	for _, w := range pool {
		total += w.weight
	}
	if total <= 0 {
		return -1, ""
	}
	n := rng.IntN(total)
	for i, w := range pool {
		if n < w.weight {
			return i, w.text
		}
		n -= w.weight
	}
	return len(pool) - 1, pool[len(pool)-1].text
}

// Responder chooses replies for a guided session, avoiding repeats within
// a category until its pool is used up.
type Responder struct {
	logger zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	recent *lru.Cache[Category, []int]
}

// NewResponder creates a responder. A zero seed picks a random one.
func NewResponder(seed int64, logger zerolog.Logger) *Responder {
	var src rand.Source
	if seed == 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	} else {
		src = rand.NewPCG(uint64(seed), uint64(seed))
	}

	// one entry per category plus the coping pool
	recent, _ := lru.New[Category, []int](len(Triggers) + 4)

	return &Responder{
		logger: logger.With().Str("component", "conversation").Logger(),
		rng:    rand.New(src),
		recent: recent,
	}
}

// Reply classifies text and returns a response for it.
func (r *Responder) Reply(text string) (Category, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	category := Classify(text)
	pool, ok := responses[category]
	if !ok {
		_, reply := selectWeighted(fallbackPool, r.rng)
		r.logger.Debug().Str("category", string(fallback)).Msg("Selected reply")
		return category, reply
	}

	reply := r.pickLocked(category, pool)
	r.logger.Debug().Str("category", string(category)).Msg("Selected reply")
	return category, reply
}

// Coping returns a coping strategy suggestion.
func (r *Responder) Coping() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked(coping, copingStrategies)
}

func (r *Responder) pickLocked(c Category, pool []string) string {
	used, _ := r.recent.Get(c)
	if len(used) >= len(pool) {
		used = nil
	}
	i, text := Select(pool, used, r.rng)
	r.recent.Add(c, append(used, i))
	return text
}
