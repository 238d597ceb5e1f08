package optimizer

import "math"

// greedy grows one slip from every viable seed leg, each step adding the extension with
// the best score. A seed stops once it reaches the minimum size and no extension improves it.
func (s *search) greedy() {
	pool := s.viableLegs()
	maxLegs := s.p.Profile.MaxLegs

	for step, seed := range pool {
		if s.exhausted() {
			return
		}

		current := []int{seed}
		currentScore := math.Inf(-1)
		for len(current) < maxLegs {
			best := bestViable(s.evaluateAll(extend(current, pool)))
			if best == nil {
				break
			}
			if len(current) >= s.p.Profile.MinLegs && best.candidate.Score <= currentScore {
				break
			}
			current = best.indices
			currentScore = best.candidate.Score
		}

		s.progress("greedy", step+1)
	}
}

// bestViable picks the highest-scoring extendable entry, preferring fewer legs on ties
func bestViable(entries []*entry) *entry {
	var best *entry
	for _, e := range entries {
		if e == nil || !e.viable {
			continue
		}
		if best == nil || betterEntry(e, best) {
			best = e
		}
	}
	return best
}

func betterEntry(a, b *entry) bool {
	if a.candidate.Score != b.candidate.Score {
		return a.candidate.Score > b.candidate.Score
	}
	return a.candidate.Key < b.candidate.Key
}
