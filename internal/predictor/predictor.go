package predictor

import (
	"sort"
	"sync"
)

const (
	// minObservations is how often a transition must be seen before it
	// counts as a prediction rather than coincidence.
	minObservations = 3

	// maxSuccessors bounds per-key fan-out. Once a key exceeds it the
	// coldest edge is dropped.
	maxSuccessors = 32

	// maxRecentKeys bounds how much of the recent-access window
	// Candidates considers.
	maxRecentKeys = 10

	// defaultCandidateLimit applies when the caller passes limit <= 0.
	defaultCandidateLimit = 5
)

// Graph learns key-to-key access transitions for the current session and
// recommends likely next reads. It is advisory: callers decide whether to
// act on a prediction. Safe for concurrent use. Nothing is persisted;
// a fresh process starts with an empty graph.
type Graph struct {
	mu    sync.RWMutex
	edges map[string]map[string]int
}

// New returns an empty transition graph.
func New() *Graph {
	return &Graph{edges: make(map[string]map[string]int)}
}

// Observe records that curr was accessed directly after prev. Empty keys
// and self transitions are ignored.
func (g *Graph) Observe(prev, curr string) {
	if prev == "" || curr == "" || prev == curr {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	successors, ok := g.edges[prev]
	if !ok {
		successors = make(map[string]int)
		g.edges[prev] = successors
	}
	successors[curr]++

	if len(successors) > maxSuccessors {
		dropColdest(successors, curr)
	}
}

// dropColdest removes the least-seen successor, sparing the edge that was
// just observed so new transitions can displace stale ones. Ties drop the
// lexicographically larger key.
func dropColdest(successors map[string]int, keep string) {
	coldKey := ""
	coldCount := 0
	for key, count := range successors {
		if key == keep {
			continue
		}
		if coldKey == "" || count < coldCount || (count == coldCount && key > coldKey) {
			coldKey = key
			coldCount = count
		}
	}
	if coldKey != "" {
		delete(successors, coldKey)
	}
}

// PredictNext returns the key most likely to be accessed after key. A
// prediction is only offered once the winning transition has been
// observed at least minObservations times.
func (g *Graph) PredictNext(key string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bestKey := ""
	bestCount := 0
	for next, count := range g.edges[key] {
		if count > bestCount || (count == bestCount && next < bestKey) {
			bestKey = next
			bestCount = count
		}
	}
	if bestCount < minObservations {
		return "", false
	}
	return bestKey, true
}

// Candidates merges predictions for the most recent keys into one ranked
// list. Only the last ten entries of recent are considered, a successor
// predicted from several keys keeps its highest count, and the result is
// ordered by count descending with ties broken by key ascending,
// truncated to limit (five when limit <= 0).
func (g *Graph) Candidates(recent []string, limit int) []string {
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	if len(recent) > maxRecentKeys {
		recent = recent[len(recent)-maxRecentKeys:]
	}

	best := make(map[string]int)

	g.mu.RLock()
	for _, key := range recent {
		for next, count := range g.edges[key] {
			if count < minObservations {
				continue
			}
			if count > best[next] {
				best[next] = count
			}
		}
	}
	g.mu.RUnlock()

	if len(best) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(best))
	for key := range best {
		ranked = append(ranked, key)
	}
	sort.Slice(ranked, func(i, j int) bool {
		ci, cj := best[ranked[i]], best[ranked[j]]
		if ci != cj {
			return ci > cj
		}
		return ranked[i] < ranked[j]
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Forget removes every transition into and out of key. Called when a key
// is evicted or removed so stale edges do not keep recommending it.
func (g *Graph) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.edges, key)
	for _, successors := range g.edges {
		delete(successors, key)
	}
}

// Reset clears the whole graph.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = make(map[string]map[string]int)
}

// Len reports how many keys currently have outgoing transitions.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}
